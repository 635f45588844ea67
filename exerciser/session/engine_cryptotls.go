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

package session

import (
	"crypto/tls"
	"net"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// CryptoTLSEngine is the default Engine, backed by crypto/tls.
type CryptoTLSEngine struct{}

func (CryptoTLSEngine) Name() string {
	return "crypto/tls"
}

func (CryptoTLSEngine) Client(
	transport net.Conn, params *HandshakeParameters) (EngineConn, error) {

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: params.ServerName,
		NextProtos: params.NextProtos,

		// Chain and hostname checks are done in VerifyConnection.
		InsecureSkipVerify: true,

		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			credential, err := params.GetCredential()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if credential == nil {
				return &tls.Certificate{}, nil
			}
			return cryptoTLSCertificate(credential), nil
		},

		VerifyConnection: func(state tls.ConnectionState) error {
			return params.VerifyPeer(state.PeerCertificates)
		},
	}

	return &cryptoTLSConn{Conn: tls.Client(transport, config)}, nil
}

func (CryptoTLSEngine) Server(
	transport net.Conn, params *HandshakeParameters) (EngineConn, error) {

	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: params.NextProtos,
		ClientAuth: cryptoTLSClientAuth(params.ClientAuth),

		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			credential, err := params.GetCredential()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if credential == nil {
				return nil, errors.TraceNew("missing server credential")
			}
			return cryptoTLSCertificate(credential), nil
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

	return &cryptoTLSConn{Conn: tls.Server(transport, config)}, nil
}

func cryptoTLSCertificate(credential *Credential) *tls.Certificate {
	return &tls.Certificate{
		Certificate: credential.RawChain(),
		PrivateKey:  credential.PrivateKey(),
		Leaf:        credential.Leaf(),
	}
}

// cryptoTLSClientAuth maps to the non-verifying crypto/tls modes, as client
// chains are checked in VerifyConnection.
func cryptoTLSClientAuth(mode ClientAuthMode) tls.ClientAuthType {
	switch mode {
	case ClientAuthRequest:
		return tls.RequestClientCert
	case ClientAuthRequire:
		return tls.RequireAnyClientCert
	}
	return tls.NoClientCert
}

type cryptoTLSConn struct {
	*tls.Conn
}

func (conn *cryptoTLSConn) ConnectionState() ConnectionState {
	state := conn.Conn.ConnectionState()
	return ConnectionState{
		Version:            state.Version,
		CipherSuite:        state.CipherSuite,
		CipherSuiteName:    tls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
		PeerCertificates:   state.PeerCertificates,
	}
}
