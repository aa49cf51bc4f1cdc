package codec

import (
	"fmt"
	"strings"

	"shelfdb/src/models"
)

// Format names accepted in configuration and the database header.
const (
	FormatJSON = "json"
	FormatBSON = "bson"
)

// Codec serialises the engine's on-disk structures: shard buckets (arrays of
// documents), index buckets (suffix -> shard paths) and header objects.
type Codec interface {
	// Name returns the format name ("json" or "bson").
	Name() string
	// Ext returns the file extension including the dot.
	Ext() string

	EncodeDocuments(docs []models.Document) ([]byte, error)
	DecodeDocuments(data []byte) ([]models.Document, error)

	EncodeBucket(bucket map[string][]string) ([]byte, error)
	DecodeBucket(data []byte) (map[string][]string, error)

	// Marshal and Unmarshal handle struct-shaped metadata (headers).
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// ForFormat returns the codec registered for name. An empty name selects JSON.
func ForFormat(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return JSON(), nil
	case FormatBSON:
		return BSON(), nil
	}
	return nil, fmt.Errorf("unknown storage format %q", name)
}

// toDocuments converts a decoded array into normalised documents, rejecting
// elements that are not objects.
func toDocuments(raw []interface{}) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(raw))
	for i, item := range raw {
		obj, ok := models.Normalize(item).(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		docs = append(docs, models.Document(obj))
	}
	return docs, nil
}
