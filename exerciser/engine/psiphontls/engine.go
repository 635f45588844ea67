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

// Package psiphontls provides a session.Engine backed by psiphon-tls, the
// Psiphon fork of crypto/tls.
package psiphontls

import (
	"net"

	tls "github.com/Psiphon-Labs/psiphon-tls"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
)

const EngineName = "psiphon-tls"

// Engine implements session.Engine for both roles.
type Engine struct{}

func (Engine) Name() string {
	return EngineName
}

func (Engine) Client(
	transport net.Conn, params *session.HandshakeParameters) (session.EngineConn, error) {

	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         params.ServerName,
		NextProtos:         params.NextProtos,
		InsecureSkipVerify: true,

		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			credential, err := params.GetCredential()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if credential == nil {
				return &tls.Certificate{}, nil
			}
			return certificate(credential), nil
		},

		VerifyConnection: func(state tls.ConnectionState) error {
			return params.VerifyPeer(state.PeerCertificates)
		},
	}

	return &conn{Conn: tls.Client(transport, config)}, nil
}

func (Engine) Server(
	transport net.Conn, params *session.HandshakeParameters) (session.EngineConn, error) {

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: params.NextProtos,
		ClientAuth: clientAuth(params.ClientAuth),

		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			credential, err := params.GetCredential()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if credential == nil {
				return nil, errors.TraceNew("missing server credential")
			}
			return certificate(credential), nil
		},

		VerifyConnection: func(state tls.ConnectionState) error {
			return params.VerifyPeer(state.PeerCertificates)
		},
	}

	if params.SelectProtocols != nil {
		config.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			connConfig := config.Clone()
			connConfig.GetConfigForClient = nil
			connConfig.NextProtos = params.SelectProtocols(hello.SupportedProtos)
			return connConfig, nil
		}
	}

	return &conn{Conn: tls.Server(transport, config)}, nil
}

func certificate(credential *session.Credential) *tls.Certificate {
	return &tls.Certificate{
		Certificate: credential.RawChain(),
		PrivateKey:  credential.PrivateKey(),
		Leaf:        credential.Leaf(),
	}
}

func clientAuth(mode session.ClientAuthMode) tls.ClientAuthType {
	switch mode {
	case session.ClientAuthRequest:
		return tls.RequestClientCert
	case session.ClientAuthRequire:
		return tls.RequireAnyClientCert
	}
	return tls.NoClientCert
}

type conn struct {
	*tls.Conn
}

func (c *conn) ConnectionState() session.ConnectionState {
	state := c.Conn.ConnectionState()
	return session.ConnectionState{
		Version:            state.Version,
		CipherSuite:        state.CipherSuite,
		CipherSuiteName:    tls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
		PeerCertificates:   state.PeerCertificates,
	}
}
