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
	"crypto/x509"
	"fmt"
	"net"
)

// Engine is a TLS implementation. A session drives exactly one EngineConn,
// created over the session's bound transport when the handshake starts.
//
// Engines don't verify peer certificates or choose credentials themselves:
// HandshakeParameters supplies callbacks for both, so that verification
// results and credential identity are the same across engines.
type Engine interface {
	Name() string
	Client(transport net.Conn, params *HandshakeParameters) (EngineConn, error)
	Server(transport net.Conn, params *HandshakeParameters) (EngineConn, error)
}

// EngineConn is a single TLS connection. Read follows the io.Reader
// convention and returns io.EOF once the peer's close_notify is received.
// CloseWrite sends close_notify without closing the transport.
type EngineConn interface {
	Handshake() error
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	CloseWrite() error
	ConnectionState() ConnectionState
}

// ConnectionState is the engine-independent subset of a negotiated
// connection's state.
type ConnectionState struct {
	Version            uint16
	CipherSuite        uint16
	CipherSuiteName    string
	NegotiatedProtocol string
	PeerCertificates   []*x509.Certificate
}

// ClientAuthMode is the server's certificate request policy.
type ClientAuthMode int

const (
	ClientAuthNone ClientAuthMode = iota
	ClientAuthRequest
	ClientAuthRequire
)

// HandshakeParameters is the per-connection input to an Engine.
type HandshakeParameters struct {

	// ServerName is the client's SNI value. Engines omit SNI for IP
	// addresses.
	ServerName string

	// NextProtos is the local ALPN list, in preference order.
	NextProtos []string

	// SelectProtocols, when set on a server, maps the client's offered ALPN
	// list to the protocol list the engine should negotiate with for this
	// connection. A single entry selects that protocol; nil selects none;
	// a list disjoint from the offer makes the engine fail the handshake with
	// a no_application_protocol alert.
	SelectProtocols func(offered []string) []string

	ClientAuth ClientAuthMode

	// GetCredential resolves the local credential at handshake time. A nil
	// credential with a nil error means none: a client then sends no
	// certificate.
	GetCredential func() (*Credential, error)

	// VerifyPeer receives the peer's presented chain, leaf first, which may
	// be empty. A non-nil error fails the handshake.
	VerifyPeer func(peerCertificates []*x509.Certificate) error
}

// VersionName returns the conventional name of a TLS protocol version.
func VersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	}
	return fmt.Sprintf("unknown(0x%04x)", version)
}
