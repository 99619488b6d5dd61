// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/deployrc/pkg/text"
)

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var (
	// 🗺️ parsers is a list of available parsers
	parsers []Parser
)

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// DefaultFileNames are looked up in order by Locate
var DefaultFileNames = []string{
	".deployrc.yaml",
	".deployrc.yml",
	".deployrc.json",
	".deployrc.hcl",
}

// Target types with special meaning. Every other type names a remote backend.
const (
	TypeLocal  = "local"
	TypeEach   = "each"
	TypeMap    = "map"
	TypeSwitch = "switch"
	TypeList   = "list"
)

// IsMeta reports whether a target type fans out to other targets
func IsMeta(targetType string) bool {
	switch strings.ToLower(targetType) {
	case TypeEach, TypeMap, TypeSwitch, TypeList:
		return true
	}
	return false
}

// 📚 Config represents the complete configuration
type Config struct {
	Values  map[string]string `json:"values,omitempty" yaml:"values,omitempty"`
	Targets []*Target         `json:"targets" yaml:"targets"`
}

// 🎯 Target is one named deployment destination
type Target struct {
	Name              string         `json:"name" yaml:"name"`
	Type              string         `json:"type,omitempty" yaml:"type,omitempty"`
	Description       string         `json:"description,omitempty" yaml:"description,omitempty"`
	Dir               string         `json:"dir,omitempty" yaml:"dir,omitempty"`
	Transform         string         `json:"transform,omitempty" yaml:"transform,omitempty"`
	TransformOptions  map[string]any `json:"transformOptions,omitempty" yaml:"transformOptions,omitempty"`
	Password          string         `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordAlgorithm string         `json:"passwordAlgorithm,omitempty" yaml:"passwordAlgorithm,omitempty"`

	// each, map and list
	Targets []string `json:"targets,omitempty" yaml:"targets,omitempty"`
	// map
	From []Source `json:"from,omitempty" yaml:"from,omitempty"`
	// switch
	Switch []SwitchOption `json:"switch,omitempty" yaml:"switch,omitempty"`
	// list
	Entries []ListEntry `json:"entries,omitempty" yaml:"entries,omitempty"`

	// Settings are handed to the backend factory after placeholder expansion
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// 🔀 SwitchOption is one selectable branch of a switch target
type SwitchOption struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Targets     []string `json:"targets" yaml:"targets"`
	Default     bool     `json:"default,omitempty" yaml:"default,omitempty"`
}

// 📋 ListEntry is one choice offered by a list target
type ListEntry struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Settings    Source `json:"settings" yaml:"settings"`
}

// 📦 Source is either an inline settings object or a URL to fetch one from
type Source struct {
	URL    string
	Inline map[string]any
}

// IsURL reports whether the source must be fetched
func (s Source) IsURL() bool {
	return s.URL != ""
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s.IsURL() {
		return json.Marshal(s.URL)
	}
	if s.Inline == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Inline)
}

func (s *Source) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(data, &s.URL)
	}
	if trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &s.Inline); err != nil {
		return errors.Errorf("source must be a URL or an object: %w", err)
	}
	return nil
}

func (s Source) MarshalYAML() (any, error) {
	if s.IsURL() {
		return s.URL, nil
	}
	return s.Inline, nil
}

func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&s.URL)
	case yaml.MappingNode:
		return node.Decode(&s.Inline)
	default:
		return errors.Errorf("line %d: source must be a URL or an object", node.Line)
	}
}

// 🎯 Load loads the configuration from a file
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	// Read config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	// Get parser
	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	// Parse config
	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	logger.Debug().Int("targets", len(cfg.Targets)).Msg("configuration loaded")
	return cfg, nil
}

// 🔍 Locate returns the first default config file found in dir
func Locate(dir string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.Errorf("no config file found in %s (looked for %s)", dir, strings.Join(DefaultFileNames, ", "))
}

// 🔍 Validate checks if the configuration is valid and fills in defaults
func (cfg *Config) Validate() error {
	if len(cfg.Targets) == 0 {
		return errors.Errorf("at least one target is required")
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for i, t := range cfg.Targets {
		if t == nil {
			return errors.Errorf("targets[%d] is empty", i)
		}
		if err := t.Validate(); err != nil {
			return errors.Errorf("targets[%d]: %w", i, err)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return errors.Errorf("duplicate target name %q", t.Name)
		}
		seen[key] = true
	}

	for _, t := range cfg.Targets {
		for _, ref := range t.References() {
			if !seen[strings.ToLower(ref)] {
				return errors.Errorf("target %q references unknown target %q", t.Name, ref)
			}
		}
	}

	return nil
}

// 🔍 Validate checks a single target and fills in defaults
func (t *Target) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.Errorf("name is required")
	}

	t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	if t.Type == "" {
		t.Type = TypeLocal
	}

	switch t.Type {
	case TypeEach, TypeMap, TypeList:
		if len(t.Targets) == 0 {
			return errors.Errorf("target %q of type %s needs targets", t.Name, t.Type)
		}
	case TypeSwitch:
		if len(t.Switch) == 0 {
			return errors.Errorf("target %q of type switch needs switch options", t.Name)
		}
	}

	if t.Type == TypeMap && len(t.From) == 0 {
		return errors.Errorf("target %q of type map needs from", t.Name)
	}
	if t.Type == TypeList && len(t.Entries) == 0 {
		return errors.Errorf("target %q of type list needs entries", t.Name)
	}

	return nil
}

// References returns every target name this target fans out to
func (t *Target) References() []string {
	refs := append([]string(nil), t.Targets...)
	for _, opt := range t.Switch {
		refs = append(refs, opt.Targets...)
	}
	return refs
}

// Find returns the target with the given name, ignoring case
func (cfg *Config) Find(name string) (*Target, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range cfg.Targets {
		if strings.ToLower(t.Name) == name {
			return t, true
		}
	}
	return nil, false
}

// Names returns target names in configuration order
func (cfg *Config) Names() []string {
	out := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		out = append(out, t.Name)
	}
	return out
}

// SettingsJSON returns the backend settings with ${name} placeholders
// expanded from values and the environment
func (t *Target) SettingsJSON(values text.Values) (json.RawMessage, error) {
	if len(t.Settings) == 0 {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, errors.Errorf("encoding settings of %q: %w", t.Name, err)
	}
	return values.ExpandJSON(raw)
}

// Clone returns a deep copy of the target
func (t *Target) Clone() (*Target, error) {
	return t.Merge(nil)
}

// Merge returns a deep copy of t with patch deep-merged on top. Patch keys
// use the JSON field names of Target.
func (t *Target) Merge(patch map[string]any) (*Target, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Errorf("encoding target %q: %w", t.Name, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Errorf("decoding target %q: %w", t.Name, err)
	}

	// normalize yaml style maps in the patch through json
	if len(patch) > 0 {
		rawPatch, err := json.Marshal(patch)
		if err != nil {
			return nil, errors.Errorf("encoding patch for %q: %w", t.Name, err)
		}
		var norm map[string]any
		if err := json.Unmarshal(rawPatch, &norm); err != nil {
			return nil, errors.Errorf("decoding patch for %q: %w", t.Name, err)
		}
		doc = DeepMerge(doc, norm)
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Errorf("encoding merged target %q: %w", t.Name, err)
	}
	out := &Target{}
	if err := json.Unmarshal(merged, out); err != nil {
		return nil, errors.Errorf("decoding merged target %q: %w", t.Name, err)
	}
	return out, nil
}

// DeepMerge merges src into dst and returns dst. Nested objects merge key by
// key, everything else in src replaces the value in dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

// 🔧 YAMLParser implements the Parser interface for YAML files
type YAMLParser struct{}

func init() {
	Register(&YAMLParser{})
}

// 🔍 CanParse checks if this parser can handle the given file
func (p *YAMLParser) CanParse(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// 📝 Parse parses the config from YAML bytes
func (p *YAMLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Errorf("parsing YAML: %w", err)
	}
	return &cfg, nil
}
