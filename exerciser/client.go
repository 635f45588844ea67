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
	"bytes"
	"context"
	"io"
	"net"
	"os"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
)

const (
	TrustInsecure = "insecure"
	TrustDefault  = "default"

	echoRequest  = "hello"
	echoResponse = "olleh\n"
)

// ClientParams are the client's positional arguments.
type ClientParams struct {
	Host string
	Port string

	// TrustAnchors is "insecure", "default" for the system trust store, or
	// the path of a PEM trust anchor bundle.
	TrustAnchors string

	// KeyFilename and ChainFilename optionally specify a client credential.
	KeyFilename   string
	ChainFilename string
}

// RunClient connects to a server, runs and reports one TLS session, and
// when echo is enabled sends "hello" and expects "olleh\n" back from a
// reversing server. The report, ending in "PASS", is written to out. Any
// failure aborts the run with an error.
func RunClient(
	ctx context.Context, params *ClientParams, config *Config, out io.Writer) error {

	r := &report{out: out}

	sessionConfig, err := newClientConfiguration(params, config, r)
	if err != nil {
		return errors.Trace(err)
	}

	client, err := session.NewClientSession(sessionConfig)
	if err != nil {
		return errors.Trace(err)
	}
	defer client.Close()

	r.identity("new", client, sessionConfig)
	r.state(client)

	err = client.SetExpectedPeerName(params.Host)
	if err != nil {
		return errors.Trace(err)
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(params.Host, params.Port))
	if err != nil {
		return errors.Trace(err)
	}

	err = client.BindTransport(conn)
	if err != nil {
		conn.Close()
		return errors.Trace(err)
	}
	r.state(client)

	stopInterrupt := interruptOnDone(ctx, conn)
	defer stopInterrupt()

	err = client.Connect()
	if err != nil {
		return errors.Trace(err)
	}
	r.state(client)
	r.identity("connect", client, sessionConfig)

	r.negotiated(client, "server")

	log.WithTraceFields(LogFields{
		"server":  conn.RemoteAddr().String(),
		"version": client.Version(),
		"cipher":  client.Cipher(),
	}).Info("connected")

	if !config.Echo || os.Getenv("NO_ECHO") != "" {
		r.printf("NO_ECHO set, skipping echo test")
		err = shutdown(client)
		if err != nil {
			return errors.Trace(err)
		}
		r.printf("PASS")
		return nil
	}

	err = clientEcho(client, r)
	if err != nil {
		return errors.Trace(err)
	}

	r.printf("PASS")
	return nil
}

func newClientConfiguration(
	params *ClientParams, config *Config, r *report) (*session.Configuration, error) {

	sessionConfig := session.NewConfiguration()

	engine, err := NewEngine(config.Engine, false)
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

	switch params.TrustAnchors {
	case TrustInsecure:
		r.printf("certificate verification disabled")
		err = sessionConfig.SetVerification(session.VerifyDisabled, "")
	case TrustDefault:
		r.printf("using system default CA certs")
		err = sessionConfig.SetVerification(session.VerifySystemDefault, "")
	default:
		err = sessionConfig.SetVerification(session.VerifyCustom, params.TrustAnchors)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	if params.KeyFilename != "" {
		err = sessionConfig.LoadCredential(params.KeyFilename, params.ChainFilename)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	err = sessionConfig.SetALPN(config.ClientProtocols)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return sessionConfig, nil
}

// clientEcho writes the request, sends close_notify, then reads the response
// with a 1-byte read followed by a read of the remainder.
func clientEcho(client *session.Session, r *report) error {

	n, err := client.Write([]byte(echoRequest))
	if err != nil {
		return errors.Trace(err)
	}
	if n != len(echoRequest) {
		return errors.Tracef("short write: %d", n)
	}

	_, err = client.Shutdown()
	if err != nil {
		return errors.Trace(err)
	}

	buffer := make([]byte, 10)

	n, err = client.Read(buffer[:1])
	if err != nil && err != io.EOF {
		return errors.Trace(err)
	}
	r.pending(client)

	if n == 0 {
		r.printf("nothing read")
	} else {
		m, err := client.Read(buffer[1:])
		if err != nil && err != io.EOF {
			return errors.Trace(err)
		}
		result := buffer[:n+m]
		r.hexdump("result", result)
		if !bytes.Equal(result, []byte(echoResponse)) {
			return errors.Tracef("unexpected echo response: %q", result)
		}
	}
	r.state(client)

	return errors.Trace(shutdown(client))
}

// shutdown completes the close_notify exchange, waiting for the peer's
// close_notify if it hasn't yet been received.
func shutdown(s *session.Session) error {
	status, err := s.Shutdown()
	if err != nil {
		return errors.Trace(err)
	}
	if status == session.ShutdownSent {
		_, err = s.Shutdown()
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// interruptOnDone closes closer when ctx is done, unblocking any pending
// accept or session I/O. The returned func stops the interrupt.
func interruptOnDone(ctx context.Context, closer io.Closer) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closer.Close()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
