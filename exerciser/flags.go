/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package exerciser

import (
	"flag"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// CommandLineFlags are the flags shared by the exerciser commands. Flags
// that are set override the config file.
type CommandLineFlags struct {
	ConfigFilename string
	Engine         string
	LogLevel       string
	LogFilename    string
}

// RegisterFlags defines the shared flags on flagSet.
func RegisterFlags(flagSet *flag.FlagSet) *CommandLineFlags {
	flags := &CommandLineFlags{}
	flagSet.StringVar(&flags.ConfigFilename, "config", "", "TOML configuration input file")
	flagSet.StringVar(&flags.Engine, "engine", "", "TLS engine: crypto/tls, psiphon-tls or utls")
	flagSet.StringVar(&flags.LogLevel, "logLevel", "", "log level")
	flagSet.StringVar(&flags.LogFilename, "logFile", "", "log output file (defaults to stderr)")
	return flags
}

// LoadConfig loads the config file, if any, applies flag overrides and
// initializes logging.
func (flags *CommandLineFlags) LoadConfig() (*Config, error) {

	config := DefaultConfig()

	if flags.ConfigFilename != "" {
		var err error
		config, err = LoadConfig(flags.ConfigFilename)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	if flags.Engine != "" {
		config.Engine = flags.Engine
	}
	if flags.LogLevel != "" {
		config.LogLevel = flags.LogLevel
	}
	if flags.LogFilename != "" {
		config.LogFilename = flags.LogFilename
	}

	err := config.Validate()
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = InitLogging(config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return config, nil
}
