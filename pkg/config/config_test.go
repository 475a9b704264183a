package config

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Auth: AuthConfig{Secret: "test-secret"},
		LLM:  LLMConfig{APIKey: "test-key"},
	}
}

func TestProcessConfigPipelineDefaults(t *testing.T) {
	cfg, err := ProcessConfigPipeline(validTestConfig())
	if err != nil {
		t.Fatalf("ProcessConfigPipeline() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Provider != LLMProviderAnthropic {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, LLMProviderAnthropic)
	}
	if cfg.Limits.MaxToolRounds != 8 {
		t.Errorf("Limits.MaxToolRounds = %d, want 8", cfg.Limits.MaxToolRounds)
	}
	if cfg.Limits.TurnTimeoutS != 120 {
		t.Errorf("Limits.TurnTimeoutS = %d, want 120", cfg.Limits.TurnTimeoutS)
	}
	if cfg.Limits.PersonalDocs.MaxSizeMB != 20 {
		t.Errorf("Limits.PersonalDocs.MaxSizeMB = %d, want 20", cfg.Limits.PersonalDocs.MaxSizeMB)
	}
	if cfg.Index.Workers != 4 {
		t.Errorf("Index.Workers = %d, want 4", cfg.Index.Workers)
	}
	if cfg.Index.ChunkTokens != 1000 {
		t.Errorf("Index.ChunkTokens = %d, want 1000", cfg.Index.ChunkTokens)
	}
	if !*cfg.Cache.Enabled {
		t.Error("Cache.Enabled = false, want true")
	}
	if !*cfg.Index.AutoOnSecondHit {
		t.Error("Index.AutoOnSecondHit = false, want true")
	}
	if cfg.Quota.DailyTurns != 50 {
		t.Errorf("Quota.DailyTurns = %d, want 50", cfg.Quota.DailyTurns)
	}
}

func TestProcessConfigPipelineDefaultAgents(t *testing.T) {
	cfg, err := ProcessConfigPipeline(validTestConfig())
	if err != nil {
		t.Fatalf("ProcessConfigPipeline() error = %v", err)
	}

	for _, name := range []string{"faa", "nrc", "dod"} {
		agent, ok := cfg.Agents[name]
		if !ok {
			t.Fatalf("Agents[%q] missing from defaults", name)
		}
		if agent.Name != name {
			t.Errorf("Agents[%q].Name = %q, want %q", name, agent.Name, name)
		}
		if agent.Index == "" {
			t.Errorf("Agents[%q].Index is empty", name)
		}
		if len(agent.Tools) == 0 {
			t.Errorf("Agents[%q].Tools is empty", name)
		}
		if agent.Prompt == "" {
			t.Errorf("Agents[%q].Prompt is empty", name)
		}
	}

	if got := cfg.Agents["nrc"].Index; got != "nrc-regulations" {
		t.Errorf("nrc index = %q, want %q", got, "nrc-regulations")
	}
}

func TestConfigValidateRejectsBadSections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing_llm_api_key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantErr: "llm",
		},
		{
			name:    "missing_auth_secret",
			mutate:  func(c *Config) { c.Auth.Secret = "" },
			wantErr: "auth",
		},
		{
			name:    "bad_cache_backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "cache",
		},
		{
			name:    "bad_vector_backend",
			mutate:  func(c *Config) { c.SearchProxy.Backend = "weaviate" },
			wantErr: "search_proxy",
		},
		{
			name:    "chunk_overlap_too_large",
			mutate:  func(c *Config) { c.Index.ChunkOverlap = 2000 },
			wantErr: "index",
		},
		{
			name: "agent_without_prompt",
			mutate: func(c *Config) {
				c.Agents["faa"].Prompt = ""
				c.Agents["faa"].PromptFile = ""
			},
			wantErr: `agent "faa"`,
		},
		{
			name: "agent_bad_citation_pattern",
			mutate: func(c *Config) {
				c.Agents["faa"].CitationPatterns = []string{"([unclosed"}
			},
			wantErr: "citation pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.PreProcess()
			cfg.SetDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConversationsDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConversationsConfig
		want string
	}{
		{
			name: "postgres",
			cfg: ConversationsConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				Database: "convs", Username: "app", Password: "pw", SSLMode: "disable",
			},
			want: "host=db port=5432 dbname=convs user=app password=pw sslmode=disable",
		},
		{
			name: "mysql",
			cfg: ConversationsConfig{
				Driver: "mysql", Host: "db", Port: 3306,
				Database: "convs", Username: "app", Password: "pw",
			},
			want: "app:pw@tcp(db:3306)/convs?parseTime=true",
		},
		{
			name: "sqlite",
			cfg:  ConversationsConfig{Driver: "sqlite", Database: "/tmp/c.db"},
			want: "/tmp/c.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConversationsDriverName(t *testing.T) {
	c := ConversationsConfig{Driver: "sqlite"}
	if got := c.DriverName(); got != "sqlite3" {
		t.Errorf("DriverName() = %q, want %q", got, "sqlite3")
	}
}

func TestServerAddr(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := c.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:9000")
	}
}

func TestLimitsDurationsFromSeconds(t *testing.T) {
	c := LimitsConfig{}
	c.SetDefaults()

	if got := time.Duration(c.TurnTimeoutS) * time.Second; got != 120*time.Second {
		t.Errorf("turn timeout = %v, want 120s", got)
	}
	if got := time.Duration(c.ToolTimeoutS) * time.Second; got != 30*time.Second {
		t.Errorf("tool timeout = %v, want 30s", got)
	}
}
