package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// initZstd creates the shared encoder and decoder. EncodeAll and DecodeAll
// are safe for concurrent use, so one instance serves every codec.
func initZstd() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil)
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdInitErr
}

// NewZstdCodec wraps inner so that its output is zstd compressed
func NewZstdCodec(inner ICodec) ICodec {
	return &zstdCodecImpl{inner: inner}
}

// zstdCodecImpl implements the ICodec interface by compressing another codec's output
type zstdCodecImpl struct {
	inner ICodec
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (z zstdCodecImpl) Name() string { return "zstd+" + z.inner.Name() }

func (z zstdCodecImpl) Encode(v any) ([]byte, error) {
	if err := initZstd(); err != nil {
		return nil, err
	}
	raw, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z zstdCodecImpl) Decode(b []byte, v any) error {
	if err := initZstd(); err != nil {
		return err
	}
	raw, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return err
	}
	return z.inner.Decode(raw, v)
}
