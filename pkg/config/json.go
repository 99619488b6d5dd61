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
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// EditorSection is the key an editor settings file keeps the deploy
// configuration under. Only its targets and values are read.
const EditorSection = "deploy.reloaded"

// 🔧 JSONParser reads .deployrc.json files and editor settings files that
// carry an EditorSection object
type JSONParser struct{}

func init() {
	Register(&JSONParser{})
}

// 🔍 CanParse checks if this parser can handle the given file
func (p *JSONParser) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), ".json")
}

// 📝 Parse parses the config from JSON bytes. Unknown fields are rejected
// everywhere except around the editor section.
func (p *JSONParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Errorf("parsing JSON: %w", err)
	}
	delete(doc, "$schema")

	if section, ok := doc[EditorSection]; ok {
		zerolog.Ctx(ctx).Debug().Str("section", EditorSection).Msg("reading config from editor settings")
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(section, &inner); err != nil {
			return nil, errors.Errorf("parsing %q section: %w", EditorSection, err)
		}
		doc = map[string]json.RawMessage{}
		for _, key := range []string{"targets", "values"} {
			if v, ok := inner[key]; ok {
				doc[key] = v
			}
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Errorf("encoding JSON config: %w", err)
	}

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Errorf("parsing JSON: %w", err)
	}
	return &cfg, nil
}
