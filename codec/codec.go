// Package codec is the pure, side-effect-free value codec of §4.3: JSON
// marshalling for serializable objects, gzip compression, PNG encoding for
// the image host type, and the byte-form of a globally-unique identifier.
// Every function here is deterministic; errors propagate as conversion
// failures and are never logged or swallowed internally.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/google/uuid"
)

// EncodeJSON marshals v to its canonical JSON byte form.
func EncodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode json: %w", err)
	}
	return b, nil
}

// DecodeJSON unmarshals b into the value pointed to by out.
func DecodeJSON(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("codec: decode json: %w", err)
	}
	return nil
}

// Gzip compresses b.
func Gzip(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("codec: gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses b.
func Gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("codec: gunzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: gunzip: %w", err)
	}
	return out, nil
}

// EncodeImage PNG-encodes img, the on-wire representation of the image host
// type (§4.2: "image → PNG bytes").
func EncodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("codec: encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes a PNG byte slice back into an image.Image.
func DecodeImage(b []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("codec: decode image: %w", err)
	}
	return img, nil
}

// GUIDBytes returns the 16-byte binary form of id, used by dialects whose
// driver expects a byte-array GUID representation.
func GUIDBytes(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// GUIDFromBytes is the inverse of GUIDBytes.
func GUIDFromBytes(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("codec: decode guid bytes: %w", err)
	}
	return id, nil
}

// NewGUID generates a fresh, non-empty globally-unique identifier, used by
// the connection runtime's insert path (§4.5 step 7).
func NewGUID() uuid.UUID {
	return uuid.New()
}
