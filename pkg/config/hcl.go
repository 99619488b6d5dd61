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
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&HCLParser{})
}

// hclTargetFields maps HCL attribute names onto Target fields. Attributes
// not listed here become backend settings.
var hclTargetFields = map[string]string{
	"type":               "type",
	"description":        "description",
	"dir":                "dir",
	"transform":          "transform",
	"transform_options":  "transformOptions",
	"password":           "password",
	"password_algorithm": "passwordAlgorithm",
	"targets":            "targets",
	"from":               "from",
	"switch":             "switch",
	"entries":            "entries",
	"settings":           "settings",
}

// 🔧 HCLParser implements the Parser interface for HCL files
//
//	values = { host = "example.com" }
//
//	target "prod" {
//	  type = "sftp"
//	  dir  = "/var/www"
//	  host = "${host}"
//	}
type HCLParser struct{}

// 🔍 CanParse checks if this parser can handle the given file
func (p *HCLParser) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".hcl")
}

type hclConfig struct {
	Values  map[string]string `hcl:"values,optional"`
	Targets []hclTarget       `hcl:"target,block"`
}

type hclTarget struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// 📝 Parse parses the config from HCL
func (p *HCLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, "config.hcl")
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	// values may only read the environment
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envObject(),
		},
	}

	var hclCfg hclConfig
	diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &hclCfg)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}

	// targets may read values as well
	for k, v := range hclCfg.Values {
		if k == "env" {
			continue
		}
		evalCtx.Variables[k] = cty.StringVal(v)
	}

	cfg := &Config{Values: hclCfg.Values}
	for _, ht := range hclCfg.Targets {
		t, err := decodeHCLTarget(ht, evalCtx)
		if err != nil {
			return nil, errors.Errorf("decoding target %q: %w", ht.Name, err)
		}
		cfg.Targets = append(cfg.Targets, t)
	}

	return cfg, nil
}

func decodeHCLTarget(ht hclTarget, evalCtx *hcl.EvalContext) (*Target, error) {
	attrs, diags := ht.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, errors.Errorf("reading attributes: %s", diags.Error())
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := map[string]any{"name": ht.Name}
	settings := map[string]any{}
	for _, name := range names {
		val, diags := attrs[name].Expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, errors.Errorf("evaluating %s: %s", name, diags.Error())
		}
		decoded, err := ctyToAny(val)
		if err != nil {
			return nil, errors.Errorf("converting %s: %w", name, err)
		}

		field, known := hclTargetFields[name]
		switch {
		case field == "settings":
			if m, ok := decoded.(map[string]any); ok {
				settings = DeepMerge(settings, m)
			}
		case known:
			doc[field] = decoded
		default:
			settings[name] = decoded
		}
	}
	if len(settings) > 0 {
		doc["settings"] = settings
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Errorf("encoding target: %w", err)
	}
	t := &Target{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, errors.Errorf("decoding target: %w", err)
	}
	return t, nil
}

// ctyToAny converts a cty value into plain JSON compatible Go values
func ctyToAny(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, errors.Errorf("value is not known")
	}
	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func envObject() cty.Value {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	if len(vars) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vars)
}
