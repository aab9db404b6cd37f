package codec

import (
	"fmt"
	"sort"
	"strings"
)

// factories maps codec names to their constructors
var factories = map[string]func() ICodec{
	"json":   NewJSONCodec,
	"gob":    NewGOBCodec,
	"yaml":   NewYAMLCodec,
	"toml":   NewTOMLCodec,
	"hujson": NewHuJSONCodec,
}

// FromName resolves a codec by name. Any base codec may be prefixed with
// "zstd+" to compress its output, e.g. "zstd+gob".
func FromName(name string) (ICodec, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if inner, ok := strings.CutPrefix(name, "zstd+"); ok {
		c, err := FromName(inner)
		if err != nil {
			return nil, err
		}
		return NewZstdCodec(c), nil
	}

	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (valid: %s, optionally prefixed with zstd+)", name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names returns the sorted names of the base codecs
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
