package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ConfigSource describes the YAML file behind the environment, if any.
type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

type fileSource struct {
	ConfigSource
	values map[string]string
}

var (
	sourceOnce sync.Once
	source     fileSource
	sourceErr  error
)

// CurrentConfigSource loads the config file on first use.
func CurrentConfigSource() (ConfigSource, error) {
	sourceOnce.Do(func() {
		source, sourceErr = loadFileSource(os.Getenv("CONFIG_PHASE"), os.Getenv("CONFIG_FILE"))
	})
	return source.ConfigSource, sourceErr
}

// loadFileSource reads config/config-<phase>.yaml, or path when set. A missing
// default file is not an error; a missing explicit one is.
func loadFileSource(phase, path string) (fileSource, error) {
	phase = strings.TrimSpace(phase)
	if phase == "" {
		phase = "local"
	}
	out := fileSource{ConfigSource: ConfigSource{Phase: phase}, values: map[string]string{}}

	path = strings.TrimSpace(path)
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", "config-"+phase+".yaml")
	}

	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read config file %q: %w", path, err)
	}

	values, err := flattenYAML(body)
	if err != nil {
		return out, fmt.Errorf("config file %q: %w", path, err)
	}
	out.values = values
	out.Loaded = true
	out.Path = path
	if abs, err := filepath.Abs(path); err == nil {
		out.Path = abs
	}
	return out, nil
}

// flattenYAML turns nested mappings into ENV_STYLE keys: solana.rpc-url
// becomes SOLANA_RPC_URL. Scalar lists are joined with commas. Scalars keep
// the text written in the file.
func flattenYAML(body []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	out := map[string]string{}
	if len(doc.Content) == 0 {
		return out, nil
	}
	if err := flattenNode("", doc.Content[0], out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenNode(prefix string, node *yaml.Node, out map[string]string) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			segment := envKeySegment(node.Content[i].Value)
			if segment == "" {
				continue
			}
			key := segment
			if prefix != "" {
				key = prefix + "_" + segment
			}
			if err := flattenNode(key, node.Content[i+1], out); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: %s must be a list of scalars", item.Line, prefix)
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				parts = append(parts, v)
			}
		}
		out[prefix] = strings.Join(parts, ",")
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("line %d: top level must be a mapping", node.Line)
		}
		if node.Tag != "!!null" {
			out[prefix] = node.Value
		}
	case yaml.AliasNode:
		return flattenNode(prefix, node.Alias, out)
	}
	return nil
}

func envKeySegment(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingSep := false
	for _, r := range strings.TrimSpace(raw) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// lookup prefers the process environment over the config file.
func lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if _, err := CurrentConfigSource(); err != nil {
		return ""
	}
	return strings.TrimSpace(source.values[key])
}
