package codec

import (
	"gopkg.in/yaml.v3"
)

// NewYAMLCodec creates a new codec producing human editable yaml documents
func NewYAMLCodec() ICodec {
	return &yamlCodecImpl{}
}

// yamlCodecImpl implements the ICodec interface using yaml.v3
type yamlCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (y yamlCodecImpl) Name() string { return "yaml" }

func (y yamlCodecImpl) Encode(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (y yamlCodecImpl) Decode(b []byte, v any) error {
	return yaml.Unmarshal(b, v)
}
