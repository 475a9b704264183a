// Copyright 2026 Tudor Baraboi
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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// SchemaCmd generates the JSON schema for configuration files, for
// editor completion and CI validation.
type SchemaCmd struct {
	Compact bool `help:"Compact output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://github.com/tudor-baraboi/cfr-agents/schemas/config.json"
	schema.Title = "cfr-agents Configuration Schema"
	schema.Description = "Configuration for the cfr-agents conversation backend and search proxy"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"server": map[string]interface{}{
				"host": "0.0.0.0",
				"port": 8000,
			},
			"llm": map[string]interface{}{
				"model":   "claude-sonnet-4-20250514",
				"api_key": "${ANTHROPIC_API_KEY}",
			},
			"agents": map[string]interface{}{
				"faa": map[string]interface{}{
					"display_name": "FAA Regulatory Assistant",
					"prompt":       "You are a regulatory assistant for FAA certification questions.",
					"index":        "faa-agent",
					"tools":        []string{"search_indexed_content", "fetch_cfr_section"},
				},
			},
			"search_proxy": map[string]interface{}{
				"url": "http://127.0.0.1:8081",
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
