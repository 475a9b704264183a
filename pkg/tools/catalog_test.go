package tools

import (
	"reflect"
	"testing"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
)

func TestNewCatalogMatchesConfiguredNames(t *testing.T) {
	cat := NewCatalog(Deps{
		Proxy:   proxyclient.New(config.SearchProxyConfig{URL: "http://localhost:8001"}),
		Fetcher: newTestFetcher(t),
		ECFR:    sources.NewECFR(config.SourceConfig{}),
		DRS:     sources.NewDRS(config.SourceConfig{}),
		ADAMS:   sources.NewADAMS(config.SourceConfig{}),
	})

	if got, want := cat.Names(), config.DefaultToolCatalog(); !reflect.DeepEqual(got, want) {
		t.Errorf("catalog names = %v\nwant %v", got, want)
	}

	// Every built-in agent's tool list resolves fully.
	for name, agentCfg := range config.DefaultAgents() {
		agentCfg.SetDefaults(name)
		sub := cat.Subset(agentCfg.Tools)
		if got, want := len(sub.Names()), len(agentCfg.Tools); got != want {
			t.Errorf("agent %s: subset resolved %d of %d tools", name, got, want)
		}
	}
}

func TestCatalogDefinitionsAreComplete(t *testing.T) {
	cat := NewCatalog(Deps{
		Proxy:   proxyclient.New(config.SearchProxyConfig{URL: "http://localhost:8001"}),
		Fetcher: newTestFetcher(t),
		ECFR:    sources.NewECFR(config.SourceConfig{}),
		DRS:     sources.NewDRS(config.SourceConfig{}),
		ADAMS:   sources.NewADAMS(config.SourceConfig{}),
	})

	for _, def := range cat.Definitions() {
		if def.Description == "" {
			t.Errorf("tool %s has no description", def.Name)
		}
		schema := def.InputSchema
		if schema == nil {
			t.Fatalf("tool %s has no input schema", def.Name)
		}
		if schema["type"] != "object" {
			t.Errorf("tool %s schema type = %v", def.Name, schema["type"])
		}
		if _, ok := schema["properties"]; !ok {
			t.Errorf("tool %s schema has no properties", def.Name)
		}
	}
}
