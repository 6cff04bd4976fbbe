package poolconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v2"
)

// stringToDurationHook decodes a plain string into our Duration type,
// since that's a struct wrapping time.Duration rather than time.Duration
// itself, mapstructure's built-in duration hook doesn't match it.
func stringToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(Duration{}) {
		return data, nil
	}
	var d Duration
	if err := d.UnmarshalText([]byte(data.(string))); err != nil {
		return nil, err
	}
	return d, nil
}

// loadFile reads a config file at path, in TOML or YAML depending on its
// extension, and decodes it into a Config. A missing file is not an
// error: it just means this layer contributes nothing.
func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := decodeYAMLMap(f)
		if err != nil {
			return nil, err
		}
		return decodeInto(raw)
	default:
		raw, err := decodeTOMLMap(f)
		if err != nil {
			return nil, err
		}
		return decodeInto(raw)
	}
}

func decodeTOMLMap(r io.Reader) (map[string]interface{}, error) {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return nil, fmt.Errorf("poolconfig: parsing TOML config file: %w", err)
	}
	return tree.ToMap(), nil
}

// decodeYAMLMap parses as map[interface{}]interface{}, yaml.v2's native
// shape, then stringifies the top-level keys so mapstructure sees the same
// map[string]interface{} shape the TOML path produces.
func decodeYAMLMap(r io.Reader) (map[string]interface{}, error) {
	var raw map[interface{}]interface{}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("poolconfig: parsing YAML config file: %w", err)
	}
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[fmt.Sprint(k)] = stringifyYAMLKeys(v)
	}
	return out, nil
}

func stringifyYAMLKeys(v interface{}) interface{} {
	m, ok := v.(map[interface{}]interface{})
	if !ok {
		return v
	}
	out := make(map[string]interface{}, len(m))
	for k, sub := range m {
		out[fmt.Sprint(k)] = stringifyYAMLKeys(sub)
	}
	return out
}

func decodeInto(raw map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(stringToDurationHook),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("poolconfig: decoding config file: %w", err)
	}
	return cfg, nil
}
