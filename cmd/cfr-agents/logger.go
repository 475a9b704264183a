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

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/logger"
)

const (
	logLevelEnvVar  = "LOG_LEVEL"
	logFileEnvVar   = "LOG_FILE"
	logFormatEnvVar = "LOG_FORMAT"
)

// initLogger configures logging before any command runs, so config
// loading itself is logged. Precedence: CLI flag, then environment,
// then defaults. The returned cleanup closes the log file, if any.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := firstNonEmpty(cliLevel, os.Getenv(logLevelEnvVar), "info")
	file := firstNonEmpty(cliFile, os.Getenv(logFileEnvVar))
	format := firstNonEmpty(cliFormat, os.Getenv(logFormatEnvVar))
	return setupLogger(level, file, format)
}

// applyConfigLogging re-initializes logging from the config file's
// logging section. CLI flags and environment variables win: when any
// of them set a logging option, the config section is ignored.
func applyConfigLogging(cli *CLI, cfg *config.Config) (func(), error) {
	overridden := cli.LogLevel != "" || os.Getenv(logLevelEnvVar) != "" ||
		cli.LogFile != "" || os.Getenv(logFileEnvVar) != "" ||
		cli.LogFormat != "" || os.Getenv(logFormatEnvVar) != ""
	if overridden {
		return nil, nil
	}
	return setupLogger(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Format)
}

func setupLogger(levelStr, file, format string) (func(), error) {
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
