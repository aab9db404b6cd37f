package codec

import (
	"encoding/json"

	"github.com/tailscale/hujson"
)

// NewHuJSONCodec creates a codec for hand edited documents. Decoding accepts
// JSON with comments and trailing commas, encoding writes indented JSON.
func NewHuJSONCodec() ICodec {
	return &hujsonCodecImpl{}
}

// hujsonCodecImpl implements the ICodec interface using tailscale/hujson
type hujsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (h hujsonCodecImpl) Name() string { return "hujson" }

func (h hujsonCodecImpl) Encode(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (h hujsonCodecImpl) Decode(b []byte, v any) error {
	// Standardize works in place, so operate on a copy of the caller's bytes
	std, err := hujson.Standardize(append([]byte(nil), b...))
	if err != nil {
		return err
	}
	return json.Unmarshal(std, v)
}
