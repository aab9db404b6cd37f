package codec

import (
	"github.com/BurntSushi/toml"
)

// NewTOMLCodec creates a new codec using toml encoding.
//
// TOML only knows string table keys, so documents containing maps with
// non-string keys cannot be encoded with this codec.
func NewTOMLCodec() ICodec {
	return &tomlCodecImpl{}
}

// tomlCodecImpl implements the ICodec interface using BurntSushi/toml
type tomlCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (t tomlCodecImpl) Name() string { return "toml" }

func (t tomlCodecImpl) Encode(v any) ([]byte, error) {
	return toml.Marshal(v)
}

func (t tomlCodecImpl) Decode(b []byte, v any) error {
	return toml.Unmarshal(b, v)
}
