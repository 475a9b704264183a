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

package config

import (
	"fmt"
	"regexp"
)

// AgentConfig binds a tenant namespace: display name, system prompt,
// enabled tool subset, vector-index name, and citation patterns.
// Agent configs are immutable at runtime.
type AgentConfig struct {
	// Name is the agent id. Filled from the map key.
	Name string `yaml:"-" json:"-"`

	// DisplayName shown to users.
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty" jsonschema:"title=Display Name,description=Human-readable agent name"`

	// Description of the agent's regulatory domain.
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description,description=Agent domain description"`

	// Prompt is the system prompt text. Takes precedence over PromptFile.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty" jsonschema:"title=Prompt,description=Inline system prompt"`

	// PromptFile is a path to a system prompt file.
	PromptFile string `yaml:"prompt_file,omitempty" json:"prompt_file,omitempty" jsonschema:"title=Prompt File,description=Path to system prompt file"`

	// Index is the vector-index name assigned to this agent.
	Index string `yaml:"index,omitempty" json:"index,omitempty" jsonschema:"title=Index,description=Vector index name"`

	// Tools is the enabled tool catalog subset.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty" jsonschema:"title=Tools,description=Enabled tool names"`

	// CitationPatterns are regexes applied to assistant text to extract
	// regulatory citations (e.g. "14 CFR 25.1309").
	CitationPatterns []string `yaml:"citation_patterns,omitempty" json:"citation_patterns,omitempty" jsonschema:"title=Citation Patterns,description=Citation extraction regexes"`
}

// SetDefaults applies default values. name is the agent's map key.
func (a *AgentConfig) SetDefaults(name string) {
	a.Name = name
	if a.DisplayName == "" {
		a.DisplayName = name
	}
	if a.Index == "" {
		a.Index = name + "-agent"
	}
	if len(a.Tools) == 0 {
		a.Tools = DefaultToolCatalog()
	}
	if len(a.CitationPatterns) == 0 {
		a.CitationPatterns = []string{cfrCitationPattern}
	}
}

// Validate checks the agent configuration.
func (a *AgentConfig) Validate() error {
	if a.Prompt == "" && a.PromptFile == "" {
		return fmt.Errorf("prompt or prompt_file is required")
	}
	if a.Index == "" {
		return fmt.Errorf("index is required")
	}
	for _, p := range a.CitationPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid citation pattern %q: %w", p, err)
		}
	}
	return nil
}

const cfrCitationPattern = `\b(\d{1,2})\s+CFR\s+(?:Part\s+)?(\d+)(?:\.(\d+[a-z]?))?\b`

// DefaultToolCatalog returns every tool name the service ships.
func DefaultToolCatalog() []string {
	return []string{
		"search_indexed_content",
		"fetch_cfr_section",
		"fetch_drs_document",
		"search_drs",
		"search_aps",
		"fetch_aps_document",
		"list_my_documents",
		"fetch_personal_document",
		"search_personal_document",
		"delete_my_document",
	}
}

// DefaultAgents returns the built-in agent set used when no agents are
// configured: one per supported regulatory domain.
func DefaultAgents() map[string]*AgentConfig {
	return map[string]*AgentConfig{
		"faa": {
			DisplayName: "FAA Regulatory Assistant",
			Description: "Federal Aviation Administration regulations (14 CFR) and DRS guidance documents",
			Prompt: "You are a regulatory assistant for FAA certification questions. " +
				"Ground every answer in 14 CFR sections or DRS guidance you have retrieved. " +
				"Cite sections in the form \"14 CFR 25.1309\". If you have not retrieved a " +
				"document, say so rather than guessing.",
			Index: "faa-agent",
			Tools: []string{
				"search_indexed_content",
				"fetch_cfr_section",
				"search_drs",
				"fetch_drs_document",
				"list_my_documents",
				"fetch_personal_document",
				"search_personal_document",
				"delete_my_document",
			},
			CitationPatterns: []string{
				cfrCitationPattern,
				`\b(AC\s+\d+[-.]\d+[A-Z]?)\b`,
			},
		},
		"nrc": {
			DisplayName: "NRC Regulatory Assistant",
			Description: "Nuclear Regulatory Commission regulations (10 CFR) and ADAMS documents",
			Prompt: "You are a regulatory assistant for NRC licensing questions. " +
				"Ground every answer in 10 CFR sections or ADAMS documents you have retrieved. " +
				"Cite sections in the form \"10 CFR 50.55a\" and ADAMS documents by accession " +
				"number. If you have not retrieved a document, say so rather than guessing.",
			Index: "nrc-agent",
			Tools: []string{
				"search_indexed_content",
				"fetch_cfr_section",
				"search_aps",
				"fetch_aps_document",
				"list_my_documents",
				"fetch_personal_document",
				"search_personal_document",
				"delete_my_document",
			},
			CitationPatterns: []string{
				cfrCitationPattern,
				`\b(ML\d{8}[A-Z]\d{3})\b`,
			},
		},
		"dod": {
			DisplayName: "DoD Contract Compliance Assistant",
			Description: "Department of Defense acquisition regulations (32 CFR, 48 CFR)",
			Prompt: "You are a regulatory assistant for DoD acquisition questions. " +
				"Ground every answer in the CFR sections you have retrieved. Cite sections " +
				"in the form \"48 CFR 204.7304\". If you have not retrieved a document, say " +
				"so rather than guessing.",
			Index: "dod-agent",
			Tools: []string{
				"search_indexed_content",
				"fetch_cfr_section",
				"list_my_documents",
				"fetch_personal_document",
				"search_personal_document",
				"delete_my_document",
			},
			CitationPatterns: []string{cfrCitationPattern},
		},
	}
}
