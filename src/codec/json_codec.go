package codec

import (
	jsoniter "github.com/json-iterator/go"

	"shelfdb/src/models"
)

var jsonAPI = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

type jsonCodec struct{}

// JSON returns the default text codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return FormatJSON }
func (jsonCodec) Ext() string  { return ".json" }

func (jsonCodec) EncodeDocuments(docs []models.Document) ([]byte, error) {
	if docs == nil {
		docs = []models.Document{}
	}
	return jsonAPI.MarshalIndent(docs, "", "  ")
}

func (jsonCodec) DecodeDocuments(data []byte) ([]models.Document, error) {
	var raw []interface{}
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return toDocuments(raw)
}

func (jsonCodec) EncodeBucket(bucket map[string][]string) ([]byte, error) {
	if bucket == nil {
		bucket = map[string][]string{}
	}
	return jsonAPI.MarshalIndent(bucket, "", "  ")
}

func (jsonCodec) DecodeBucket(data []byte) (map[string][]string, error) {
	bucket := map[string][]string{}
	if err := jsonAPI.Unmarshal(data, &bucket); err != nil {
		return nil, err
	}
	return bucket, nil
}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return jsonAPI.MarshalIndent(v, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return jsonAPI.Unmarshal(data, v)
}

// ParseValue decodes a single JSON literal (object, array, number, string,
// bool or null) into the normalised value representation.
func ParseValue(text string) (interface{}, error) {
	var v interface{}
	if err := jsonAPI.UnmarshalFromString(text, &v); err != nil {
		return nil, err
	}
	return models.Normalize(v), nil
}

// ParseDocuments accepts either a JSON array of objects or a single object.
func ParseDocuments(data []byte) ([]models.Document, error) {
	var v interface{}
	if err := jsonAPI.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	switch t := models.Normalize(v).(type) {
	case []interface{}:
		return toDocuments(t)
	case map[string]interface{}:
		return []models.Document{models.Document(t)}, nil
	}
	return nil, errNotDocuments
}

// Render serialises a value as compact JSON for display.
func Render(v interface{}) (string, error) {
	return jsonAPI.MarshalToString(v)
}
