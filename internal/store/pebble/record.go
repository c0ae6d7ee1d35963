package pebble

import (
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/s2"

	"github.com/cascadeflow/cascadeflow/internal/store"
)

// json is the jsoniter instance configured to be compatible with the
// standard library.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireRecord is the JSON envelope stored under a message key. Large
// payloads are S2-compressed before being embedded; small ones are left
// as plain JSON to avoid compression overhead on tiny messages.
type wireRecord struct {
	Payload    []byte         `json:"payload"`
	Compressed bool           `json:"compressed"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

func encodeRecord(payload any, metadata map[string]any, createdAt time.Time) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "pebble: failed to marshal payload")
	}

	rec := wireRecord{
		Payload:   payloadJSON,
		Metadata:  metadata,
		CreatedAt: createdAt.UnixNano(),
	}
	if len(payloadJSON) > compressionThreshold {
		rec.Payload = s2.Encode(nil, payloadJSON)
		rec.Compressed = true
	}

	return json.Marshal(rec)
}

func decodeRecord(cascadeID string, raw []byte) (*store.Message, error) {
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "pebble: failed to unmarshal record")
	}

	payloadJSON := rec.Payload
	if rec.Compressed {
		decoded, err := s2.Decode(nil, rec.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "pebble: failed to decompress payload")
		}
		payloadJSON = decoded
	}

	var payload any
	if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, errors.Wrap(err, "pebble: failed to unmarshal payload")
		}
	}

	return &store.Message{
		CascadeID: cascadeID,
		Payload:   payload,
		Metadata:  rec.Metadata,
		CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
	}, nil
}
