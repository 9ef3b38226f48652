package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec serialises a bucket to and from its file.
type Codec interface {
	// Extension is appended to the bucket key to form the file name.
	Extension() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// JSONCodec stores buckets as plain JSON. encoding/json sorts map keys, so
// identical buckets produce identical files.
type JSONCodec struct{}

// Extension implements Codec.
func (JSONCodec) Extension() string { return ".json" }

// Encode implements Codec.
func (JSONCodec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode implements Codec.
func (JSONCodec) Decode(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// ZstdCodec stores buckets as zstd-compressed JSON.
type ZstdCodec struct {
	Level zstd.EncoderLevel
}

// Extension implements Codec.
func (ZstdCodec) Extension() string { return ".json.zst" }

// Encode implements Codec.
func (c ZstdCodec) Encode(w io.Writer, v any) error {
	level := c.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := (JSONCodec{}).Encode(enc, v); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// Decode implements Codec.
func (ZstdCodec) Decode(r io.Reader, v any) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()
	return JSONCodec{}.Decode(dec, v)
}

// CodecFor maps a configured compression name to its codec.
func CodecFor(compression string) (Codec, error) {
	switch compression {
	case "", "none", "json":
		return JSONCodec{}, nil
	case "zstd":
		return ZstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown store compression %q", compression)
	}
}
