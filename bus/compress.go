package bus

import (
	"github.com/klauspost/compress/zstd"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// compressMagic prefixes a zstd-compressed frame so a receiver — including
// one with compression disabled — can tell compressed bodies apart from
// plain JSON (which always starts with '{').
var compressMagic = []byte("ZSTD")

var (
	sharedEncoder *zstd.Encoder
	sharedDecoder *zstd.Decoder
)

func init() {
	// Encoder/Decoder are safe for concurrent use once constructed; build
	// them once rather than per message.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	sharedEncoder = enc
	sharedDecoder = dec
}

// maybeCompress zstd-compresses data when the client was configured to
// compress and data is at least as large as the configured threshold.
// Small bodies skip compression — the framing overhead isn't worth it.
func (c *RedisClient) maybeCompress(data []byte) ([]byte, error) {
	if !c.compress || len(data) < c.compressThreshold {
		return data, nil
	}
	out := sharedEncoder.EncodeAll(data, append([]byte{}, compressMagic...))
	return out, nil
}

// maybeDecompress reverses maybeCompress based on the magic prefix, so a
// receiver works whether or not compression was enabled at its end.
func (c *RedisClient) maybeDecompress(data []byte) ([]byte, error) {
	if len(data) < len(compressMagic) || string(data[:len(compressMagic)]) != string(compressMagic) {
		return data, nil
	}
	out, err := sharedDecoder.DecodeAll(data[len(compressMagic):], nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decompress bus message"), errors.KindTransport)
	}
	return out, nil
}
