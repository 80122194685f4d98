// Package config implements the layered configuration store of spec.md
// §4.D: default -> user -> project -> environment -> CLI layers merged into
// a typed, immutable view, adapted from configuration/configuration.go and
// configuration/parser.go's versioned, env-overridable struct parser.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

// Source tags where a field's effective value came from.
type Source int

const (
	SourceDefault Source = iota
	SourceUser
	SourceProject
	SourceEnvironment
	SourceCLI
)

func (s Source) String() string {
	return [...]string{"default", "user", "project", "environment", "cli"}[s]
}

// Configuration is the merged, typed configuration view for one install.
type Configuration struct {
	Version string `yaml:"version"`

	EnableImmutableInstalls bool `yaml:"enableImmutableInstalls"`
	EnableImmutableCache    bool `yaml:"enableImmutableCache"`

	// EnableAutoTypes defaults true iff a tsconfig.json is present at the
	// project or package root (§4.D); nil until DiscoverDefaults resolves it.
	EnableAutoTypes *bool `yaml:"enableAutoTypes,omitempty"`

	NodeLinker string `yaml:"nodeLinker"` // "node-modules" | "pnp" | "isolated"

	CacheFolder   string `yaml:"cacheFolder"`
	GlobalFolder  string `yaml:"globalFolder"`

	NetworkConcurrency int           `yaml:"networkConcurrency"`
	HTTPTimeout        time.Duration `yaml:"httpTimeout"`

	// PatchPathRoot resolves §9's open question on patch-relative paths not
	// prefixed with "~/": "project" (default) or "home".
	PatchPathRoot string `yaml:"patchPathRoot"`

	Registry string `yaml:"npmRegistryServer"`
}

// Default returns the built-in default layer.
func Default() Configuration {
	return Configuration{
		Version:            "1",
		NodeLinker:         "node-modules",
		CacheFolder:        ".yarn/cache",
		GlobalFolder:       filepath.Join(homeDir(), ".corepm"),
		NetworkConcurrency: defaultNetworkConcurrency(),
		HTTPTimeout:        30 * time.Second,
		PatchPathRoot:      "project",
		Registry:           "https://registry.npmjs.org",
	}
}

// layer is one parsed rc-file contributing fields to the merge.
type layer struct {
	source Source
	values map[string]any
}

// Loader accumulates layers in precedence order (lowest first) and produces
// the final immutable Configuration.
type Loader struct {
	envPrefix string
	layers    []layer
}

// NewLoader returns a Loader seeded with the built-in defaults.
func NewLoader() *Loader {
	l := &Loader{envPrefix: "COREPM"}
	def, _ := toMap(Default())
	l.layers = append(l.layers, layer{source: SourceDefault, values: def})
	return l
}

// AddFile parses a YAML rc file and appends it as a layer; a missing file is
// not an error (rc files are optional at every layer).
func (l *Loader) AddFile(source Source, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s config %s: %w", source, path, err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parsing %s config %s: %w", source, path, err)
	}
	l.layers = append(l.layers, layer{source: source, values: values})
	return nil
}

// AddCLIOverrides appends a final layer of flag-derived overrides.
func (l *Loader) AddCLIOverrides(values map[string]any) {
	if len(values) == 0 {
		return
	}
	l.layers = append(l.layers, layer{source: SourceCLI, values: values})
}

// Resolve merges all layers (later overrides earlier) and decodes the result
// into a Configuration, then applies environment-variable overrides the same
// way configuration/parser.go's overwriteFields does: PREFIX_FIELD,
// PREFIX_FIELD_SUBFIELD, uppercased. CLI-override layers are decoded once
// more after the environment pass, so they take precedence over it.
func (l *Loader) Resolve() (Configuration, map[string]Source, error) {
	merged := map[string]any{}
	fieldSource := map[string]Source{}
	for _, ly := range l.layers {
		for k, v := range ly.values {
			merged[k] = v
			fieldSource[k] = ly.source
		}
	}

	var cfg Configuration
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "yaml",
	})
	if err != nil {
		return Configuration{}, nil, err
	}
	if err := dec.Decode(merged); err != nil {
		return Configuration{}, nil, fmt.Errorf("decoding configuration: %w", err)
	}

	applyEnvOverrides(reflect.ValueOf(&cfg).Elem(), l.envPrefix, fieldSource)

	for _, ly := range l.layers {
		if ly.source != SourceCLI {
			continue
		}
		if err := dec.Decode(ly.values); err != nil {
			return Configuration{}, nil, fmt.Errorf("decoding CLI overrides: %w", err)
		}
		for k := range ly.values {
			fieldSource[k] = SourceCLI
		}
	}

	return cfg, fieldSource, nil
}

func applyEnvOverrides(v reflect.Value, prefix string, fieldSource map[string]Source) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		envKey := strings.ToUpper(prefix + "_" + sf.Name)
		if raw, ok := os.LookupEnv(envKey); ok {
			if err := setFromEnv(v.Field(i), raw); err == nil {
				fieldSource[yamlFieldName(sf)] = SourceEnvironment
			}
		}
	}
}

func yamlFieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("yaml")
	if tag == "" {
		return sf.Name
	}
	return strings.SplitN(tag, ",", 2)[0]
}

func setFromEnv(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Ptr:
		if field.Type().Elem().Kind() == reflect.Bool {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(&b))
		}
	}
	return nil
}

// DiscoverDefaults fills EnableAutoTypes when unset, based on the presence
// of a tsconfig.json at projectRoot (§4.D).
func DiscoverDefaults(cfg *Configuration, projectRoot string) {
	if cfg.EnableAutoTypes != nil {
		return
	}
	_, err := os.Stat(filepath.Join(projectRoot, "tsconfig.json"))
	v := err == nil
	cfg.EnableAutoTypes = &v
}

func toMap(cfg Configuration) (map[string]any, error) {
	out := map[string]any{}
	var m map[string]any
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}

// defaultNetworkConcurrency is CPU cores * 4, clamped at 32 (§4.G/§5).
func defaultNetworkConcurrency() int {
	n := runtime.NumCPU() * 4
	if n > 32 {
		return 32
	}
	return n
}

func numCPU() int {
	return defaultNetworkConcurrency()
}
