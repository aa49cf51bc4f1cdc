package codec

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"shelfdb/src/models"
)

var errNotDocuments = errors.New("content is neither an object nor an array of objects")

// BSON only encodes top-level documents, so arrays are wrapped.
type bsonDocuments struct {
	Documents []models.Document `bson:"documents"`
}

type bsonBucket struct {
	Entries map[string][]string `bson:"entries"`
}

type bsonCodec struct{}

// BSON returns the binary codec used for ".bson" storage.
func BSON() Codec { return bsonCodec{} }

func (bsonCodec) Name() string { return FormatBSON }
func (bsonCodec) Ext() string  { return ".bson" }

func (bsonCodec) EncodeDocuments(docs []models.Document) ([]byte, error) {
	if docs == nil {
		docs = []models.Document{}
	}
	return bson.Marshal(bsonDocuments{Documents: docs})
}

func (bsonCodec) DecodeDocuments(data []byte) ([]models.Document, error) {
	var wrapper struct {
		Documents []interface{} `bson:"documents"`
	}
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return toDocuments(wrapper.Documents)
}

func (bsonCodec) EncodeBucket(bucket map[string][]string) ([]byte, error) {
	if bucket == nil {
		bucket = map[string][]string{}
	}
	return bson.Marshal(bsonBucket{Entries: bucket})
}

func (bsonCodec) DecodeBucket(data []byte) (map[string][]string, error) {
	var wrapper bsonBucket
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Entries == nil {
		wrapper.Entries = map[string][]string{}
	}
	return wrapper.Entries, nil
}

// Headers stay human-readable JSON in both formats.
func (bsonCodec) Marshal(v interface{}) ([]byte, error) {
	return jsonAPI.MarshalIndent(v, "", "  ")
}

func (bsonCodec) Unmarshal(data []byte, v interface{}) error {
	return jsonAPI.Unmarshal(data, v)
}
