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
	"os"
	"time"
)

// SourcesConfig holds credentials and endpoints for the regulatory
// upstreams.
type SourcesConfig struct {
	// ECFR is the eCFR versioner API serving CFR section text.
	ECFR SourceConfig `yaml:"ecfr,omitempty" json:"ecfr,omitempty"`

	// DRS is the FAA Dynamic Regulatory System portal.
	DRS SourceConfig `yaml:"drs,omitempty" json:"drs,omitempty"`

	// ADAMS is the NRC public document library (APS API).
	ADAMS SourceConfig `yaml:"adams,omitempty" json:"adams,omitempty"`
}

// SourceConfig configures one upstream portal.
type SourceConfig struct {
	// BaseURL of the portal API.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Upstream API base URL"`

	// APIKey for the portal. Supports ${VAR} expansion. The eCFR API
	// is public and ignores this.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Upstream API key (use ${ENV_VAR})"`

	// RatePerSec bounds outbound requests to this portal.
	RatePerSec float64 `yaml:"rate_per_sec,omitempty" json:"rate_per_sec,omitempty" jsonschema:"title=Rate Per Second,description=Outbound request budget,minimum=0,default=2"`

	// Timeout per upstream request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=30s"`

	// Mock serves canned responses instead of calling the portal.
	// Only the ADAMS adapter honors this; it allows offline operation
	// while the NRC developer portal gates API keys.
	Mock bool `yaml:"mock,omitempty" json:"mock,omitempty" jsonschema:"title=Mock Mode,description=Serve canned responses (ADAMS only)"`
}

// SetDefaults applies default values.
func (c *SourcesConfig) SetDefaults() {
	if c.ECFR.BaseURL == "" {
		c.ECFR.BaseURL = "https://www.ecfr.gov/api/versioner/v1"
	}
	if c.DRS.BaseURL == "" {
		c.DRS.BaseURL = "https://drs.faa.gov/api/drs"
	}
	if c.DRS.APIKey == "" {
		c.DRS.APIKey = os.Getenv("DRS_API_KEY")
	}
	if c.ADAMS.BaseURL == "" {
		c.ADAMS.BaseURL = "https://adams-api.nrc.gov/aps/api/search"
	}
	if c.ADAMS.APIKey == "" {
		c.ADAMS.APIKey = os.Getenv("APS_API_KEY")
	}

	for _, s := range []*SourceConfig{&c.ECFR, &c.DRS, &c.ADAMS} {
		if s.RatePerSec == 0 {
			s.RatePerSec = 2
		}
		if s.Timeout == 0 {
			s.Timeout = 30 * time.Second
		}
	}
}

// Validate checks the sources configuration.
func (c *SourcesConfig) Validate() error {
	for name, s := range map[string]*SourceConfig{
		"ecfr":  &c.ECFR,
		"drs":   &c.DRS,
		"adams": &c.ADAMS,
	} {
		if s.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required", name)
		}
		if s.RatePerSec < 0 {
			return fmt.Errorf("%s.rate_per_sec must be non-negative", name)
		}
	}
	return nil
}
