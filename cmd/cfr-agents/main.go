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

// Command cfr-agents runs the regulatory assistance services.
//
// The backend serves the chat websocket and personal document API:
//
//	cfr-agents serve --config config.yaml
//
// The search proxy serves vector search and indexing to the backend:
//
//	cfr-agents proxy --config config.yaml
//
// Both commands run with built-in defaults when no config file is
// given. Use validate and schema to work with configuration files.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the conversation backend."`
	Proxy    ProxyCmd    `cmd:"" help:"Start the search proxy."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON schema for configuration files."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config     string   `short:"c" help:"Path to configuration file." type:"path"`
	ConfigType string   `name:"config-type" help:"Configuration source: file, consul, etcd, zookeeper." default:"file"`
	Endpoints  []string `help:"Remote configuration endpoints (consul, etcd, zookeeper)."`
	LogLevel   string   `name:"log-level" help:"Log level: debug, info, warn, error."`
	LogFile    string   `name:"log-file" help:"Log file path (default: stderr)."`
	LogFormat  string   `name:"log-format" help:"Log format: simple, json, text (default: auto-detect)."`
}

// VersionCmd prints build information.
type VersionCmd struct {
	JSON bool `help:"Print version information as JSON."`
}

func (c *VersionCmd) Run() error {
	info := version.Get()
	if c.JSON {
		return printJSON(os.Stdout, info)
	}
	fmt.Println(info.String())
	return nil
}

func main() {
	// .env files are a development convenience; absence is not an error.
	_ = config.LoadEnvFiles()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cfr-agents"),
		kong.Description("Regulatory assistance service: streaming chat agents over federal aviation and nuclear regulations."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
