// Package codec provides the encodings used to persist documents. It defines a
// common interface and multiple implementations for turning a document value
// into bytes and back.
//
// Key Components:
//
//   - ICodec: Core interface that all codec implementations must satisfy.
//
//   - gobCodecImpl: Go's gob encoding. Compact, handles every Go type the bot
//     uses (including maps keyed by integers) and is the default.
//
//   - jsonCodecImpl: JSON encoding, useful when the files should be readable
//     or consumed by other tools.
//
//   - yamlCodecImpl: YAML via gopkg.in/yaml.v3 for documents that operators
//     edit by hand.
//
//   - tomlCodecImpl: TOML via BurntSushi/toml. TOML tables only have string
//     keys, so only documents with string-keyed maps can be stored.
//
//   - hujsonCodecImpl: reads JSON with comments and trailing commas
//     (tailscale/hujson) and writes indented JSON.
//
//   - zstdCodecImpl: wraps any other codec and compresses its output with
//     klauspost/compress/zstd.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	c, err := codec.FromName("zstd+gob")
//	data, err := c.Encode(doc)
//	// ... write data ...
//	var loaded Document
//	err = c.Decode(data, &loaded)
package codec
