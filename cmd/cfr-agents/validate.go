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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// ValidateCmd validates a configuration file: strict structure check
// (unknown keys rejected), defaults applied, env vars resolved, and
// semantic validation of every section.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path or remote key." placeholder:"PATH"`
	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the effective configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	sourceType, err := config.ParseConfigType(cli.ConfigType)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type:      sourceType,
		Path:      c.Config,
		Endpoints: cli.Endpoints,
	})
	if err != nil {
		return printLoadError(c.Format, c.Config, err)
	}

	if c.PrintConfig {
		return printEffectiveConfig(c.Format, c.Config, cfg)
	}

	printSuccess(c.Format, c.Config)
	return nil
}

// validationError is one error in the JSON report.
type validationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type validationReport struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []validationError `json:"errors,omitempty"`
}

func printLoadError(format, file string, err error) error {
	switch format {
	case "json":
		report := validationReport{
			File:   file,
			Errors: []validationError{{Type: "load", Message: err.Error()}},
		}
		if encErr := printJSON(os.Stdout, report); encErr != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", encErr)
		}
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n")
		fmt.Fprintf(os.Stderr, "========================\n\n")
		fmt.Fprintf(os.Stderr, "File:    %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:   %s\n", err.Error())
	default: // compact
		fmt.Fprintf(os.Stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config validation failed")
}

func printSuccess(format, file string) {
	switch format {
	case "json":
		if err := printJSON(os.Stdout, validationReport{Valid: true, File: file}); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		}
	case "verbose":
		fmt.Fprintf(os.Stdout, "Configuration Validation Successful\n")
		fmt.Fprintf(os.Stdout, "===================================\n\n")
		fmt.Fprintf(os.Stdout, "File:   %s\n", file)
		fmt.Fprintf(os.Stdout, "Status: OK Valid\n")
	default: // compact
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}

func printEffectiveConfig(format, file string, cfg *config.Config) error {
	if format == "json" {
		return printJSON(os.Stdout, cfg)
	}

	fmt.Fprintf(os.Stdout, "# Effective configuration from: %s\n", file)
	fmt.Fprintf(os.Stdout, "# (defaults applied, env vars resolved)\n\n")

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return encoder.Close()
}
