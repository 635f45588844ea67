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
	"context"
	"io"
	"net"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
)

const (
	TrustUnauthenticated = "unauth"

	bannerResponse = "HTTP/1.0 200 OK\r\n\r\nhello\r\n"
)

// ServerParams are the server's positional arguments, after the port.
type ServerParams struct {
	KeyFilename   string
	ChainFilename string

	// TrustAnchors is "unauth", for no client authentication, or the path of
	// a PEM trust anchor bundle used to verify client certificates.
	TrustAnchors string
}

// RunServer accepts one connection on listener, runs and reports one TLS
// session, reads a request and writes a response. The report, ending in
// "PASS", is written to out. Any failure aborts the run with an error.
// RunServer closes listener.
func RunServer(
	ctx context.Context,
	listener net.Listener,
	params *ServerParams,
	config *Config,
	out io.Writer) error {

	r := &report{out: out}

	stopInterrupt := interruptOnDone(ctx, listener)
	defer stopInterrupt()
	defer listener.Close()

	r.printf("listening")

	sessionConfig, err := newServerConfiguration(params, config, r)
	if err != nil {
		return errors.Trace(err)
	}

	server, err := session.NewServerSession(sessionConfig)
	if err != nil {
		return errors.Trace(err)
	}
	defer server.Close()

	r.identity("new", server, sessionConfig)
	r.state(server)

	conn, err := listener.Accept()
	if err != nil {
		return errors.Trace(err)
	}

	err = server.BindTransport(conn)
	if err != nil {
		conn.Close()
		return errors.Trace(err)
	}
	r.state(server)

	stopConnInterrupt := interruptOnDone(ctx, conn)
	defer stopConnInterrupt()

	err = server.Accept()
	if err != nil {
		return errors.Trace(err)
	}
	r.state(server)
	r.identity("accept", server, sessionConfig)

	r.negotiated(server, "client")

	log.WithTraceFields(LogFields{
		"client":  conn.RemoteAddr().String(),
		"version": server.Version(),
		"cipher":  server.Cipher(),
	}).Info("accepted")

	request, err := readRequest(server, r)
	if err != nil {
		return errors.Trace(err)
	}

	response := []byte(bannerResponse)
	if config.ServerResponse == ServerResponseReverse {
		response = reverse(request)
	}

	n, err := server.Write(response)
	if err != nil {
		return errors.Trace(err)
	}
	if n != len(response) {
		return errors.Tracef("short write: %d", n)
	}

	err = shutdown(server)
	if err != nil {
		return errors.Trace(err)
	}

	r.printf("PASS")
	return nil
}

func newServerConfiguration(
	params *ServerParams, config *Config, r *report) (*session.Configuration, error) {

	sessionConfig := session.NewConfiguration()

	engine, err := NewEngine(config.Engine, true)
	if err != nil {
		return nil, errors.Trace(err)
	}
	err = sessionConfig.SetEngine(engine)
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = sessionConfig.SetLogger(sessionLogger{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if params.TrustAnchors == TrustUnauthenticated {
		r.printf("client auth disabled")
	} else {
		err = sessionConfig.SetVerification(session.VerifyCustom, params.TrustAnchors)
		if err != nil {
			return nil, errors.Trace(err)
		}
		err = sessionConfig.SetRequirePeerCertificate(config.RequireClientCertificate)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	err = sessionConfig.LoadCredential(params.KeyFilename, params.ChainFilename)
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = sessionConfig.SetALPN(config.ServerProtocols)
	if err != nil {
		return nil, errors.Trace(err)
	}

	policy, err := config.alpnMismatchPolicy()
	if err != nil {
		return nil, errors.Trace(err)
	}
	err = sessionConfig.SetALPNMismatchPolicy(policy)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return sessionConfig, nil
}

// readRequest reads until the peer closes or no decrypted data remains
// buffered after a read. The latter is a simplification: a request split
// across records may be cut short.
func readRequest(server *session.Session, r *report) ([]byte, error) {

	var request []byte
	buffer := make([]byte, 128)

	for {
		n, err := server.Read(buffer)
		if err != nil && err != io.EOF {
			return nil, errors.Trace(err)
		}
		r.pending(server)

		if n == 0 {
			r.printf("nothing read")
			break
		}
		r.hexdump("result", buffer[:n])
		request = append(request, buffer[:n]...)
		r.state(server)

		if !server.HasPending() {
			break
		}
	}

	return request, nil
}

func reverse(request []byte) []byte {
	response := make([]byte, 0, len(request)+1)
	for i := len(request) - 1; i >= 0; i-- {
		response = append(response, request[i])
	}
	return append(response, '\n')
}
