package mapfile

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// encodeBlob gob-encodes v and gzip-compresses the result.
func encodeBlob(v any) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeBlob decompresses and decodes a blob written by encodeBlob into v.
func decodeBlob(blob []byte, v any) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	if err := gob.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("failed to decode blob: %w", err)
	}
	return nil
}
