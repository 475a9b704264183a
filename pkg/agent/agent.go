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

// Package agent holds the per-tenant agent definitions: system prompt,
// tool subset, vector-index binding, and citation patterns.
package agent

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// Agent is a tenant namespace binding. Immutable once built.
type Agent struct {
	Name         string
	DisplayName  string
	Description  string
	SystemPrompt string

	// IndexName is the vector index all regulatory searches for this
	// agent run against.
	IndexName string

	// Tools is the enabled tool subset, by name.
	Tools []string

	citationREs []*regexp.Regexp
}

// HasTool reports whether the agent exposes the named tool.
func (a *Agent) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// ExtractCitations applies the agent's citation patterns to assistant
// text and returns the deduplicated matches in first-seen order.
func (a *Agent) ExtractCitations(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, re := range a.citationREs {
		for _, match := range re.FindAllString(text, -1) {
			match = strings.TrimSpace(match)
			if match == "" {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			out = append(out, match)
		}
	}

	return out
}

// New builds an Agent from validated config. Prompt files are read
// here, once, so turn handling never touches the filesystem.
func New(cfg *config.AgentConfig) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent config cannot be nil")
	}

	prompt := cfg.Prompt
	if prompt == "" && cfg.PromptFile != "" {
		data, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file for agent %q: %w", cfg.Name, err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return nil, fmt.Errorf("agent %q has an empty system prompt", cfg.Name)
	}

	res := make([]*regexp.Regexp, 0, len(cfg.CitationPatterns))
	for _, pattern := range cfg.CitationPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("agent %q citation pattern %q: %w", cfg.Name, pattern, err)
		}
		res = append(res, re)
	}

	return &Agent{
		Name:         cfg.Name,
		DisplayName:  cfg.DisplayName,
		Description:  cfg.Description,
		SystemPrompt: prompt,
		IndexName:    cfg.Index,
		Tools:        append([]string(nil), cfg.Tools...),
		citationREs:  res,
	}, nil
}

// Registry is the read-only set of configured agents.
type Registry struct {
	agents map[string]*Agent
}

// NewRegistry builds every configured agent. Fails fast on any bad
// agent so misconfiguration surfaces at startup, not mid-turn.
func NewRegistry(cfgs map[string]*config.AgentConfig) (*Registry, error) {
	agents := make(map[string]*Agent, len(cfgs))
	for name, cfg := range cfgs {
		a, err := New(cfg)
		if err != nil {
			return nil, err
		}
		agents[name] = a
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	return &Registry{agents: agents}, nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (*Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// List returns all agents sorted by name.
func (r *Registry) List() []*Agent {
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all agent names sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
