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
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
	"github.com/sirupsen/logrus"
)

const (
	ServerResponseBanner  = "banner"
	ServerResponseReverse = "reverse"

	ALPNMismatchIgnore = "ignore"
	ALPNMismatchReject = "reject"
)

// Config specifies the exerciser parameters that aren't positional
// command line arguments.
type Config struct {

	// LogLevel specifies the log level. Valid values are:
	// "panic", "fatal", "error", "warn", "info", "debug"
	LogLevel string

	// LogFilename specifies the path of the file to log
	// to. When blank, logs are written to stderr.
	LogFilename string

	// Engine names the TLS engine: "crypto/tls", "psiphon-tls" or, for
	// clients only, "utls".
	Engine string

	ClientProtocols []string
	ServerProtocols []string

	// ALPNMismatch is the server's policy for a client ALPN offer disjoint
	// from ServerProtocols: "ignore" or "reject".
	ALPNMismatch string

	// ServerResponse is "banner", a fixed HTTP response, or "reverse", the
	// request reversed followed by a newline.
	ServerResponse string

	// RequireClientCertificate makes a verifying server fail clients that
	// present no certificate.
	RequireClientCertificate bool

	// Echo enables the client's hello/olleh exchange.
	Echo bool
}

// DefaultConfig returns the configuration used when no config file is
// given.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		Engine:          session.CryptoTLSEngine{}.Name(),
		ClientProtocols: []string{"hi", "world"},
		ServerProtocols: []string{"http/1.1"},
		ALPNMismatch:    ALPNMismatchIgnore,
		ServerResponse:  ServerResponseBanner,
		Echo:            true,
	}
}

type fileConfig struct {
	LogLevel                 string   `toml:"log_level"`
	LogFilename              string   `toml:"log_filename"`
	Engine                   string   `toml:"engine"`
	ClientProtocols          []string `toml:"client_protocols"`
	ServerProtocols          []string `toml:"server_protocols"`
	ALPNMismatch             string   `toml:"alpn_mismatch"`
	ServerResponse           string   `toml:"server_response"`
	RequireClientCertificate bool     `toml:"require_client_certificate"`
	Echo                     bool     `toml:"echo"`
}

// LoadConfig decodes a TOML config file over DefaultConfig. Only keys
// present in the file override defaults.
func LoadConfig(filename string) (*Config, error) {

	config := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(filename, &raw)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Tracef("unknown config key: %s", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		config.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("log_filename") {
		config.LogFilename = strings.TrimSpace(raw.LogFilename)
	}

	if meta.IsDefined("engine") {
		config.Engine = strings.TrimSpace(raw.Engine)
	}

	if meta.IsDefined("client_protocols") {
		config.ClientProtocols = raw.ClientProtocols
	}

	if meta.IsDefined("server_protocols") {
		config.ServerProtocols = raw.ServerProtocols
	}

	if meta.IsDefined("alpn_mismatch") {
		config.ALPNMismatch = strings.TrimSpace(raw.ALPNMismatch)
	}

	if meta.IsDefined("server_response") {
		config.ServerResponse = strings.TrimSpace(raw.ServerResponse)
	}

	if meta.IsDefined("require_client_certificate") {
		config.RequireClientCertificate = raw.RequireClientCertificate
	}

	if meta.IsDefined("echo") {
		config.Echo = raw.Echo
	}

	err = config.Validate()
	if err != nil {
		return nil, errors.Trace(err)
	}

	return config, nil
}

// Validate checks config values that are otherwise only checked when a
// session is configured.
func (config *Config) Validate() error {

	_, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return errors.Trace(err)
	}

	if !common.Contains(EngineNames(), config.Engine) {
		return errors.Tracef("unknown engine: %s", config.Engine)
	}

	for _, protocol := range append(
		append([]string(nil), config.ClientProtocols...), config.ServerProtocols...) {

		err := common.ValidateALPNProtocol(protocol)
		if err != nil {
			return errors.Trace(err)
		}
	}

	_, err = config.alpnMismatchPolicy()
	if err != nil {
		return errors.Trace(err)
	}

	if config.ServerResponse != ServerResponseBanner &&
		config.ServerResponse != ServerResponseReverse {
		return errors.Tracef("unknown server response: %s", config.ServerResponse)
	}

	return nil
}

func (config *Config) alpnMismatchPolicy() (session.ALPNMismatchPolicy, error) {
	switch config.ALPNMismatch {
	case ALPNMismatchIgnore, "":
		return session.ALPNMismatchIgnore, nil
	case ALPNMismatchReject:
		return session.ALPNMismatchReject, nil
	}
	return 0, errors.Tracef("unknown ALPN mismatch policy: %s", config.ALPNMismatch)
}
