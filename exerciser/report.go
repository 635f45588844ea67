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
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
)

// report writes the exerciser's stdout lines. Lines depend only on the
// protocol outcome, not on the engine, so runs with different engines may
// be compared.
type report struct {
	out io.Writer
}

func (r *report) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *report) hexdump(label string, data []byte) {
	if len(data) == 0 {
		r.printf("%s: (none)", label)
		return
	}
	r.printf("%s: % x", label, data)
}

func sameAs(same bool) string {
	if same {
		return "same as"
	}
	return "differs to"
}

// identity reports whether the session's credential and certificate are
// the configuration's.
func (r *report) identity(
	stage string, s *session.Session, config *session.Configuration) {

	r.printf("%s: session credential %s configuration credential",
		stage, sameAs(s.LocalCredential() == config.LocalCredential()))
	r.printf("%s: session certificate %s configuration certificate",
		stage, sameAs(s.LocalCertificate() == config.LocalCertificate()))
}

func (r *report) state(s *session.Session) {
	r.printf("state: %s", s.State())
}

// negotiated reports the handshake results.
func (r *report) negotiated(s *session.Session, peerRole string) {

	protocol, _ := s.NegotiatedProtocol()
	r.hexdump("alpn", []byte(protocol))

	r.printf("version: %s", s.Version())
	r.printf("verify-result: %d", int(s.VerificationResult()))
	r.printf("cipher: %s", s.Cipher())

	r.peerCertificate(peerRole, s.PeerCertificateChain())
}

func (r *report) peerCertificate(peerRole string, chain []*x509.Certificate) {
	if len(chain) == 0 {
		r.printf("%s certificate: none", peerRole)
		return
	}
	leaf := chain[0]
	r.printf("%s certificate: subject=%s issuer=%s", peerRole, leaf.Subject, leaf.Issuer)
	if len(leaf.DNSNames) > 0 {
		r.printf("%s certificate: dns=%s", peerRole, strings.Join(leaf.DNSNames, ","))
	}
	r.printf("%s certificate: chain length %d", peerRole, len(chain))
}

func (r *report) pending(s *session.Session) {
	r.printf("pending: %d", s.Pending())
	r.printf("has-pending: %t", s.HasPending())
}
