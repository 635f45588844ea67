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

// Package utlsclient provides a client-only session.Engine backed by utls.
// The ClientHello is the utls Golang profile, which takes its ALPN list,
// SNI and versions from the Config.
package utlsclient

import (
	"net"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
	utls "github.com/Psiphon-Labs/utls"
)

const EngineName = "utls"

type Engine struct{}

func (Engine) Name() string {
	return EngineName
}

func (Engine) Client(
	transport net.Conn, params *session.HandshakeParameters) (session.EngineConn, error) {

	config := &utls.Config{
		MinVersion:         utls.VersionTLS12,
		ServerName:         params.ServerName,
		NextProtos:         params.NextProtos,
		InsecureSkipVerify: true,

		GetClientCertificate: func(*utls.CertificateRequestInfo) (*utls.Certificate, error) {
			credential, err := params.GetCredential()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if credential == nil {
				return &utls.Certificate{}, nil
			}
			return &utls.Certificate{
				Certificate: credential.RawChain(),
				PrivateKey:  credential.PrivateKey(),
				Leaf:        credential.Leaf(),
			}, nil
		},

		VerifyConnection: func(state utls.ConnectionState) error {
			return params.VerifyPeer(state.PeerCertificates)
		},
	}

	return &conn{UConn: utls.UClient(transport, config, utls.HelloGolang)}, nil
}

func (Engine) Server(net.Conn, *session.HandshakeParameters) (session.EngineConn, error) {
	return nil, errors.TraceNew("utls is client only")
}

type conn struct {
	*utls.UConn
}

func (c *conn) ConnectionState() session.ConnectionState {
	state := c.UConn.ConnectionState()
	return session.ConnectionState{
		Version:            state.Version,
		CipherSuite:        state.CipherSuite,
		CipherSuiteName:    utls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
		PeerCertificates:   state.PeerCertificates,
	}
}
