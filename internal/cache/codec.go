package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func encodeEntry(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) (*Entry, error) {
	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	// gob 不区分空切片/空 map 与 nil。
	entry.normalize()
	return &entry, nil
}
