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

import "fmt"

// LimitsConfig bounds turn execution and personal document storage.
type LimitsConfig struct {
	// MaxToolRounds is the safety bound on model/tool round-trips per turn.
	MaxToolRounds int `yaml:"max_tool_rounds,omitempty" json:"max_tool_rounds,omitempty" jsonschema:"title=Max Tool Rounds,description=Tool round safety bound per turn,minimum=1,default=8"`

	// TurnTimeoutS is the soft cap on a whole turn, in seconds.
	TurnTimeoutS int `yaml:"turn_timeout_s,omitempty" json:"turn_timeout_s,omitempty" jsonschema:"title=Turn Timeout,description=Soft turn cap in seconds,minimum=1,default=120"`

	// RequestTimeoutS bounds a single model streaming request, in seconds.
	RequestTimeoutS int `yaml:"request_timeout_s,omitempty" json:"request_timeout_s,omitempty" jsonschema:"title=Request Timeout,description=Model request cap in seconds,minimum=1,default=60"`

	// ToolTimeoutS bounds a single tool execution, in seconds.
	ToolTimeoutS int `yaml:"tool_timeout_s,omitempty" json:"tool_timeout_s,omitempty" jsonschema:"title=Tool Timeout,description=Tool execution cap in seconds,minimum=1,default=30"`

	// PersonalDocs bounds the upload store.
	PersonalDocs PersonalDocsLimits `yaml:"personal_docs,omitempty" json:"personal_docs,omitempty"`
}

// PersonalDocsLimits bounds per-user personal document storage.
type PersonalDocsLimits struct {
	// MaxSizeMB is the maximum upload size in megabytes.
	MaxSizeMB int `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty" jsonschema:"title=Max Size MB,description=Max upload size in MB,minimum=1,default=20"`

	// MaxPerUser is the maximum stored documents per fingerprint.
	MaxPerUser int `yaml:"max_per_user,omitempty" json:"max_per_user,omitempty" jsonschema:"title=Max Per User,description=Max documents per user,minimum=1,default=20"`

	// FetchCharCap truncates reassembled document text returned to the
	// model in a single tool result.
	FetchCharCap int `yaml:"fetch_char_cap,omitempty" json:"fetch_char_cap,omitempty" jsonschema:"title=Fetch Char Cap,description=Max characters per document fetch,minimum=1,default=50000"`
}

// SetDefaults applies default values.
func (c *LimitsConfig) SetDefaults() {
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 8
	}
	if c.TurnTimeoutS == 0 {
		c.TurnTimeoutS = 120
	}
	if c.RequestTimeoutS == 0 {
		c.RequestTimeoutS = 60
	}
	if c.ToolTimeoutS == 0 {
		c.ToolTimeoutS = 30
	}
	if c.PersonalDocs.MaxSizeMB == 0 {
		c.PersonalDocs.MaxSizeMB = 20
	}
	if c.PersonalDocs.MaxPerUser == 0 {
		c.PersonalDocs.MaxPerUser = 20
	}
	if c.PersonalDocs.FetchCharCap == 0 {
		c.PersonalDocs.FetchCharCap = 50000
	}
}

// Validate checks the limits configuration.
func (c *LimitsConfig) Validate() error {
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be positive")
	}
	if c.TurnTimeoutS < 1 {
		return fmt.Errorf("turn_timeout_s must be positive")
	}
	if c.RequestTimeoutS < 1 {
		return fmt.Errorf("request_timeout_s must be positive")
	}
	if c.ToolTimeoutS < 1 {
		return fmt.Errorf("tool_timeout_s must be positive")
	}
	if c.PersonalDocs.MaxSizeMB < 1 {
		return fmt.Errorf("personal_docs.max_size_mb must be positive")
	}
	if c.PersonalDocs.MaxPerUser < 1 {
		return fmt.Errorf("personal_docs.max_per_user must be positive")
	}
	return nil
}
