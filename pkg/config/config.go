package config

import (
	"fmt"
)

// Config is the root configuration for the cfr-agents service.
type Config struct {
	Server        ServerConfig            `yaml:"server,omitempty" json:"server,omitempty"`
	Auth          AuthConfig              `yaml:"auth,omitempty" json:"auth,omitempty"`
	LLM           LLMConfig               `yaml:"llm,omitempty" json:"llm,omitempty"`
	Embedder      EmbedderConfig          `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	Agents        map[string]*AgentConfig `yaml:"agents,omitempty" json:"agents,omitempty"`
	Cache         CacheConfig             `yaml:"cache,omitempty" json:"cache,omitempty"`
	Index         IndexConfig             `yaml:"index,omitempty" json:"index,omitempty"`
	Limits        LimitsConfig            `yaml:"limits,omitempty" json:"limits,omitempty"`
	SearchProxy   SearchProxyConfig       `yaml:"search_proxy,omitempty" json:"search_proxy,omitempty"`
	Conversations ConversationsConfig     `yaml:"conversations,omitempty" json:"conversations,omitempty"`
	Quota         QuotaConfig             `yaml:"quota,omitempty" json:"quota,omitempty"`
	Sources       SourcesConfig           `yaml:"sources,omitempty" json:"sources,omitempty"`
	Logging       LoggingConfig           `yaml:"logging,omitempty" json:"logging,omitempty"`
	Observability ObservabilityConfig     `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ProcessConfigPipeline runs the full config processing pipeline:
// pre-processing, defaults, then validation.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.PreProcess()

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

// PreProcess normalizes the raw config before defaults are applied.
func (c *Config) PreProcess() {
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}

	// An agent block with no tools gets the full catalog.
	for _, agent := range c.Agents {
		if agent != nil && len(agent.Tools) == 0 {
			agent.Tools = DefaultToolCatalog()
		}
	}
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}

	if len(c.Agents) == 0 {
		for name, agent := range DefaultAgents() {
			c.Agents[name] = agent
		}
	}

	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Cache.SetDefaults()
	c.Index.SetDefaults()
	c.Limits.SetDefaults()
	c.SearchProxy.SetDefaults()
	c.Conversations.SetDefaults()
	c.Quota.SetDefaults()
	c.Sources.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()

	for name, agent := range c.Agents {
		if agent != nil {
			agent.SetDefaults(name)
		}
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := c.SearchProxy.Validate(); err != nil {
		return fmt.Errorf("search_proxy: %w", err)
	}
	if err := c.Conversations.Validate(); err != nil {
		return fmt.Errorf("conversations: %w", err)
	}
	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if err := c.Sources.Validate(); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	for name, agent := range c.Agents {
		if agent == nil {
			return fmt.Errorf("agent %q: config cannot be null", name)
		}
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
	}

	return nil
}

// BoolPtr returns a pointer to b. Used for optional boolean config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 {
	return &f
}
