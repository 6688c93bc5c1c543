package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the wire encoding of a checkpoint.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// Compression selects an optional compression pass after encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Codec serializes checkpoints. Decode sniffs the payload, so a store can
// switch formats without rewriting existing threads.
type Codec struct {
	format      Format
	compression Compression
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

// NewCodec validates the format/compression pair.
func NewCodec(format Format, compression Compression) (*Codec, error) {
	switch format {
	case FormatJSON, FormatMsgpack:
	case "":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("unknown checkpoint format %q", format)
	}
	switch compression {
	case CompressionNone, CompressionZstd:
	case "":
		compression = CompressionNone
	default:
		return nil, fmt.Errorf("unknown checkpoint compression %q", compression)
	}

	c := &Codec{format: format, compression: compression}
	var err error
	if c.enc, err = zstd.NewWriter(nil); err != nil {
		return nil, err
	}
	if c.dec, err = zstd.NewReader(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultCodec is uncompressed JSON, readable by dashboards.
func DefaultCodec() *Codec {
	c, err := NewCodec(FormatJSON, CompressionNone)
	if err != nil {
		panic(err)
	}
	return c
}

// Name identifies the codec for logs and metrics.
func (c *Codec) Name() string {
	return string(c.format) + "+" + string(c.compression)
}

// Encode serializes v with the configured format and compression.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch c.format {
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		err = enc.Encode(v)
		data = buf.Bytes()
	default:
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	if c.compression == CompressionZstd {
		data = c.enc.EncodeAll(data, nil)
	}
	return data, nil
}

// Decode reverses Encode for any supported format/compression.
func (c *Codec) Decode(data []byte, v interface{}) error {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress checkpoint: %w", err)
		}
		data = raw
	}
	if len(data) == 0 {
		return fmt.Errorf("decode checkpoint: empty payload")
	}

	var err error
	if data[0] == '{' {
		err = json.Unmarshal(data, v)
	} else {
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		err = dec.Decode(v)
	}
	if err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	return nil
}
