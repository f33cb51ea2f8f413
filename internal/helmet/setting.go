package helmet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config maps feature names to settings. Features missing from the map use
// their registry default.
type Config map[string]Setting

type state uint8

const (
	stateDefault state = iota
	stateOff
	stateOn
)

// Setting is the tri-state value of one feature: left at its default (the
// zero value), turned off, or turned on with optional options.
type Setting struct {
	state state
	opts  any
}

// Off excludes a feature even if it is enabled by default.
func Off() Setting { return Setting{state: stateOff} }

// On includes a feature with empty options.
func On() Setting { return Setting{state: stateOn} }

// With includes a feature and passes opts to its constructor. opts is the
// feature's options struct (or a pointer to it), or a generic map that is
// decoded into it. With(nil) is On().
func With(opts any) Setting { return Setting{state: stateOn, opts: opts} }

// IsSet reports whether the setting overrides the registry default.
func (s Setting) IsSet() bool { return s.state != stateDefault }

// Options returns the options carried by With, or nil.
func (s Setting) Options() any { return s.opts }

func (s Setting) enabled(def bool) bool {
	switch s.state {
	case stateOff:
		return false
	case stateOn:
		return true
	default:
		return def
	}
}

func (s Setting) String() string {
	switch s.state {
	case stateOff:
		return "off"
	case stateOn:
		if s.opts != nil {
			return "on(options)"
		}
		return "on"
	default:
		return "default"
	}
}

// UnmarshalYAML accepts true, false, or a mapping of feature options.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("%w: line %d: want true, false or a mapping, got %q", ErrInvalidConfig, node.Line, node.Value)
		}
		if b {
			*s = On()
		} else {
			*s = Off()
		}
		return nil
	case yaml.MappingNode:
		n := *node
		*s = With(&n)
		return nil
	default:
		return fmt.Errorf("%w: line %d: want true, false or a mapping", ErrInvalidConfig, node.Line)
	}
}

// MarshalYAML writes a setting back in the form UnmarshalYAML accepts.
// Default settings are never written since Config omits them.
func (s Setting) MarshalYAML() (any, error) {
	switch s.state {
	case stateOff:
		return false, nil
	case stateOn:
		if s.opts == nil {
			return true, nil
		}
		return s.opts, nil
	default:
		return nil, nil
	}
}

// Parse decodes a YAML (or JSON) policy document into a Config. The
// document must be a single mapping keyed by feature name.
func Parse(data []byte) (Config, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := requireSingleDocument(dec); err != nil {
		return nil, err
	}

	root := documentRoot(&doc)
	if isNull(root) {
		return Config{}, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document root is not a mapping", ErrInvalidConfig)
	}

	keys := make([]string, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keys = append(keys, root.Content[i].Value)
	}
	if looksLikeRequest(keys) {
		return nil, ErrRequestAsConfig
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Config{}
	}
	return cfg, nil
}

// requireSingleDocument fails if the stream holds a second document with
// content. A bare trailing "---" is allowed.
func requireSingleDocument(dec *yaml.Decoder) error {
	for {
		var extra yaml.Node
		err := dec.Decode(&extra)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if root := documentRoot(&extra); !isNull(root) {
			return fmt.Errorf("%w: line %d: policy must be a single document", ErrInvalidConfig, root.Line)
		}
	}
}

func documentRoot(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.DocumentNode && len(n.Content) == 0) ||
		(n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// LoadFile reads and parses a policy document from disk.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("helmet: read policy %s: %w", path, err)
	}
	return Parse(data)
}

// configFromMap converts a generic decoded map into a Config.
func configFromMap(m map[string]any) (Config, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	if looksLikeRequest(keys) {
		return nil, ErrRequestAsConfig
	}
	sort.Strings(keys)

	cfg := make(Config, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				cfg[k] = On()
			} else {
				cfg[k] = Off()
			}
		case Setting:
			cfg[k] = v
		case nil:
			// null keeps the default, same as a YAML "~"
			cfg[k] = Setting{}
		default:
			cfg[k] = With(v)
		}
	}
	return cfg, nil
}

// requestKeys are field names of HTTP request objects across common server
// runtimes. Feature names never collide with them.
var requestKeys = map[string]bool{
	"method":      true,
	"url":         true,
	"headers":     true,
	"header":      true,
	"httpversion": true,
	"body":        true,
	"socket":      true,
	"host":        true,
	"remoteaddr":  true,
	"proto":       true,
}

// looksLikeRequest reports whether a key set structurally resembles a request.
func looksLikeRequest(keys []string) bool {
	hits := 0
	for _, k := range keys {
		if requestKeys[strings.ToLower(k)] {
			hits++
		}
	}
	return hits >= 2
}
