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

// QuotaConfig bounds per-user daily turn usage.
type QuotaConfig struct {
	// Enabled turns quota enforcement off when false.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Enforce daily turn quota,default=true"`

	// DailyTurns is the number of turns each fingerprint may start per
	// UTC day.
	DailyTurns int `yaml:"daily_turns,omitempty" json:"daily_turns,omitempty" jsonschema:"title=Daily Turns,description=Turns per fingerprint per UTC day,minimum=1,default=50"`

	// WarnRemaining emits a quota_update warning when this many turns
	// remain.
	WarnRemaining int `yaml:"warn_remaining,omitempty" json:"warn_remaining,omitempty" jsonschema:"title=Warn Remaining,description=Warn when this many turns remain,minimum=0,default=5"`
}

// SetDefaults applies default values.
func (c *QuotaConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.DailyTurns == 0 {
		c.DailyTurns = 50
	}
	if c.WarnRemaining == 0 {
		c.WarnRemaining = 5
	}
}

// Validate checks the quota configuration.
func (c *QuotaConfig) Validate() error {
	if c.DailyTurns < 1 {
		return fmt.Errorf("daily_turns must be positive")
	}
	if c.WarnRemaining < 0 {
		return fmt.Errorf("warn_remaining must be non-negative")
	}
	return nil
}
