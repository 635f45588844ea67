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
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/internal/testutils"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

type SessionTestSuite struct {
	suite.Suite
	pki *testPKI
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (suite *SessionTestSuite) SetupSuite() {
	suite.pki = newTestPKI(suite.T())
}

func (suite *SessionTestSuite) serverConfig(credential *Credential) *Configuration {
	config := NewConfiguration()
	suite.Require().NoError(config.SetCredential(credential))
	return config
}

func (suite *SessionTestSuite) trustingConfig() *Configuration {
	config := NewConfiguration()
	suite.Require().NoError(config.SetVerification(VerifyCustom, suite.pki.rootFilename))
	return config
}

func (suite *SessionTestSuite) handshakeError(err error) *HandshakeError {
	suite.Require().Error(err)
	suite.Require().ErrorIs(err, ErrHandshakeFailed)
	var handshakeErr *HandshakeError
	suite.Require().True(errors.As(err, &handshakeErr))
	return handshakeErr
}

func (suite *SessionTestSuite) Test_CredentialIdentity() {

	serverConfig := suite.serverConfig(suite.pki.server)

	clientConfig := NewConfiguration()
	suite.Require().NoError(clientConfig.SetCredential(suite.pki.client))

	server, err := NewServerSession(serverConfig)
	suite.Require().NoError(err)
	suite.True(server.LocalCredential() == serverConfig.LocalCredential())
	suite.True(server.LocalCertificate() == serverConfig.LocalCertificate())
	server.Close()

	pair := handshake(suite.T(), clientConfig, serverConfig, "", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	suite.True(pair.server.LocalCredential() == serverConfig.LocalCredential())
	suite.True(pair.server.LocalCredential().Same(suite.pki.server))
	suite.True(pair.server.LocalCertificate() == serverConfig.LocalCertificate())

	// Verification is disabled, so the server requested no client
	// certificate, but the configured credential is still reported.
	suite.True(pair.client.LocalCredential() == clientConfig.LocalCredential())
	suite.False(pair.client.LocalCredential().Same(pair.server.LocalCredential()))

	suite.True(pair.server.IsServer())
	suite.False(pair.client.IsServer())
}

func (suite *SessionTestSuite) Test_ALPNDisjointIgnored() {

	serverConfig := suite.serverConfig(suite.pki.server)
	suite.Require().NoError(serverConfig.SetALPN([]string{"http/1.1"}))

	clientConfig := NewConfiguration()
	suite.Require().NoError(clientConfig.SetALPNWire([]byte("\x02hi\x05world")))

	pair := handshake(suite.T(), clientConfig, serverConfig, "", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	_, ok := pair.client.NegotiatedProtocol()
	suite.False(ok)
	_, ok = pair.server.NegotiatedProtocol()
	suite.False(ok)
	suite.Equal("", pair.client.NegotiatedParameters().Protocol)
}

func (suite *SessionTestSuite) Test_ALPNDisjointRejected() {

	serverConfig := suite.serverConfig(suite.pki.server)
	suite.Require().NoError(serverConfig.SetALPN([]string{"http/1.1"}))
	suite.Require().NoError(serverConfig.SetALPNMismatchPolicy(ALPNMismatchReject))

	clientConfig := NewConfiguration()
	suite.Require().NoError(clientConfig.SetALPN([]string{"hi", "world"}))

	pair := handshake(suite.T(), clientConfig, serverConfig, "", nil)

	suite.Equal(FailureProtocolAlert, suite.handshakeError(pair.clientErr).Reason)
	suite.Equal(FailureProtocolAlert, suite.handshakeError(pair.serverErr).Reason)
	suite.Equal(StateError, pair.client.State())
	suite.Equal(StateError, pair.server.State())
}

func (suite *SessionTestSuite) Test_ALPNSelected() {

	serverConfig := suite.serverConfig(suite.pki.server)
	suite.Require().NoError(serverConfig.SetALPN([]string{"http/1.1", "h2"}))

	clientConfig := NewConfiguration()
	suite.Require().NoError(clientConfig.SetALPN([]string{"h2", "http/1.1"}))

	pair := handshake(suite.T(), clientConfig, serverConfig, "", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	// Server preference order.
	protocol, ok := pair.client.NegotiatedProtocol()
	suite.True(ok)
	suite.Equal("http/1.1", protocol)
	protocol, ok = pair.server.NegotiatedProtocol()
	suite.True(ok)
	suite.Equal("http/1.1", protocol)
}

func (suite *SessionTestSuite) Test_VerificationDisabledUntrustedPeer() {

	// With anchors configured, and with none.
	for _, anchors := range []string{suite.pki.rootFilename, ""} {

		clientConfig := NewConfiguration()
		suite.Require().NoError(clientConfig.SetVerification(VerifyDisabled, anchors))

		pair := handshake(
			suite.T(), clientConfig, suite.serverConfig(suite.pki.untrusted), "localhost", nil)
		suite.Require().NoError(pair.clientErr)
		suite.Require().NoError(pair.serverErr)

		suite.NotEqual(VerifyOK, pair.client.VerificationResult())
		suite.Equal(pair.client.VerificationResult(), pair.client.NegotiatedParameters().VerifyResult)
		suite.Len(pair.client.PeerCertificateChain(), 1)
	}
}

func (suite *SessionTestSuite) Test_CustomTrust() {

	pair := handshake(
		suite.T(),
		suite.trustingConfig(),
		suite.serverConfig(suite.pki.server),
		"localhost",
		nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	suite.Equal(VerifyOK, pair.client.VerificationResult())
	suite.Equal(StateEstablished, pair.client.State())

	chain := pair.client.PeerCertificateChain()
	suite.Require().Len(chain, 3)
	suite.Equal("localhost", chain[0].Subject.CommonName)
	suite.Equal("test root", chain[2].Subject.CommonName)

	suite.Contains([]string{"TLSv1.2", "TLSv1.3"}, pair.client.Version())
	suite.Equal(pair.client.Version(), pair.server.Version())
	suite.NotEmpty(pair.client.Cipher())
	suite.Equal(pair.client.Cipher(), pair.server.Cipher())

	// An IP address expected name matches the IP SAN.
	pair = handshake(
		suite.T(),
		suite.trustingConfig(),
		suite.serverConfig(suite.pki.server),
		"127.0.0.1",
		nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)
}

func (suite *SessionTestSuite) Test_HostnameMismatch() {

	pair := handshake(
		suite.T(),
		suite.trustingConfig(),
		suite.serverConfig(suite.pki.server),
		"example.com",
		nil)

	handshakeErr := suite.handshakeError(pair.clientErr)
	suite.Equal(FailureVerification, handshakeErr.Reason)
	suite.Equal(VerifyHostnameMismatch, handshakeErr.VerifyResult)
	suite.Equal(VerifyHostnameMismatch, pair.client.VerificationResult())
	suite.Equal(StateError, pair.client.State())
	suite.ErrorIs(pair.client.Failure(), ErrHandshakeFailed)

	suite.Equal(FailureProtocolAlert, suite.handshakeError(pair.serverErr).Reason)
}

func (suite *SessionTestSuite) Test_UntrustedServer() {

	testCases := []struct {
		credential *Credential
		result     VerifyResult
	}{
		{suite.pki.selfSigned, VerifyDepthZeroSelfSignedCert},
		{suite.pki.untrusted, VerifyUnableToGetIssuerLocally},
	}

	for _, testCase := range testCases {
		pair := handshake(
			suite.T(),
			suite.trustingConfig(),
			suite.serverConfig(testCase.credential),
			"localhost",
			nil)

		handshakeErr := suite.handshakeError(pair.clientErr)
		suite.Equal(FailureVerification, handshakeErr.Reason)
		suite.Equal(testCase.result, handshakeErr.VerifyResult)
		suite.Error(pair.serverErr)
	}
}

func (suite *SessionTestSuite) Test_MutualAuthentication() {

	serverConfig := suite.serverConfig(suite.pki.server)
	suite.Require().NoError(serverConfig.SetVerification(VerifyCustom, suite.pki.rootFilename))
	suite.Require().NoError(serverConfig.SetRequirePeerCertificate(true))

	clientConfig := suite.trustingConfig()
	suite.Require().NoError(clientConfig.SetCredential(suite.pki.client))

	pair := handshake(suite.T(), clientConfig, serverConfig, "localhost", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	chain := pair.server.PeerCertificateChain()
	suite.Require().NotEmpty(chain)
	suite.Equal("client", chain[0].Subject.CommonName)
	suite.Equal(VerifyOK, pair.server.VerificationResult())
	suite.True(pair.client.LocalCredential() == suite.pki.client)

	// A required client certificate that isn't sent fails the server.
	pair = handshake(suite.T(), suite.trustingConfig(), serverConfig, "localhost", nil)
	suite.Require().Error(pair.serverErr)
	suite.ErrorIs(pair.serverErr, ErrHandshakeFailed)

	// An untrusted client certificate fails verification.
	clientConfig = suite.trustingConfig()
	suite.Require().NoError(clientConfig.SetCredential(suite.pki.selfSigned))
	pair = handshake(suite.T(), clientConfig, serverConfig, "localhost", nil)
	handshakeErr := suite.handshakeError(pair.serverErr)
	suite.Equal(FailureVerification, handshakeErr.Reason)
}

func (suite *SessionTestSuite) Test_OptionalClientCertificate() {

	serverConfig := suite.serverConfig(suite.pki.server)
	suite.Require().NoError(serverConfig.SetVerification(VerifyCustom, suite.pki.rootFilename))

	pair := handshake(suite.T(), suite.trustingConfig(), serverConfig, "localhost", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)
	suite.Empty(pair.server.PeerCertificateChain())
	suite.Equal(VerifyOK, pair.server.VerificationResult())
}

// reverseEchoServer reads until no plaintext is pending, writes the reversed
// request and a newline, and completes the shutdown.
func reverseEchoServer(server *Session) error {
	var request []byte
	buffer := make([]byte, 1024)
	for {
		n, err := server.Read(buffer)
		request = append(request, buffer[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !server.HasPending() {
			break
		}
	}

	response := make([]byte, 0, len(request)+1)
	for i := len(request) - 1; i >= 0; i-- {
		response = append(response, request[i])
	}
	response = append(response, '\n')

	_, err := server.Write(response)
	if err != nil {
		return err
	}

	status, err := server.Shutdown()
	if err != nil {
		return err
	}
	if status == ShutdownSent {
		_, err = server.Shutdown()
	}
	return err
}

func (suite *SessionTestSuite) runReverseEcho(wrapClientConn func(net.Conn) net.Conn) {

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)
	defer listener.Close()

	server, err := NewServerSession(suite.serverConfig(suite.pki.server))
	suite.Require().NoError(err)
	defer server.Close()

	var group errgroup.Group
	group.Go(func() error {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		conn.SetDeadline(time.Now().Add(10 * time.Second))
		err = server.BindTransport(conn)
		if err != nil {
			return err
		}
		err = server.Accept()
		if err != nil {
			return err
		}
		return reverseEchoServer(server)
	})

	client, err := NewClientSession(suite.trustingConfig())
	suite.Require().NoError(err)
	defer client.Close()
	suite.Require().NoError(client.SetExpectedPeerName("localhost"))

	conn, err := net.Dial("tcp", listener.Addr().String())
	suite.Require().NoError(err)
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if wrapClientConn != nil {
		conn = wrapClientConn(conn)
	}
	suite.Require().NoError(client.BindTransport(conn))
	suite.Require().NoError(client.Connect())

	n, err := client.Write([]byte("hello"))
	suite.Require().NoError(err)
	suite.Equal(5, n)

	status, err := client.Shutdown()
	suite.Require().NoError(err)
	suite.Equal(ShutdownSent, status)
	suite.Equal(StateShuttingDown, client.State())

	_, err = client.Write([]byte("more"))
	suite.ErrorIs(err, ErrInvalidState)

	buffer := make([]byte, 1)
	n, err = client.Read(buffer)
	suite.Require().NoError(err)
	suite.Equal(1, n)
	suite.Equal(byte('o'), buffer[0])

	suite.Equal(5, client.Pending())
	suite.True(client.HasPending())

	rest := make([]byte, client.Pending())
	n, err = client.Read(rest)
	suite.Require().NoError(err)
	suite.Equal("olleh\n", string(buffer)+string(rest[:n]))
	suite.False(client.HasPending())

	n, err = client.Read(buffer)
	suite.Equal(0, n)
	suite.Equal(io.EOF, err)
	suite.True(client.PeerClosed())

	status, err = client.Shutdown()
	suite.Require().NoError(err)
	suite.Equal(ShutdownComplete, status)
	suite.Equal(StateClosed, client.State())

	// Shutdown is idempotent once closed.
	status, err = client.Shutdown()
	suite.Require().NoError(err)
	suite.Equal(ShutdownComplete, status)

	suite.Require().NoError(group.Wait())
	suite.Equal(StateClosed, server.State())
}

func (suite *SessionTestSuite) Test_ReverseEcho() {
	suite.runReverseEcho(nil)
}

func (suite *SessionTestSuite) Test_ShortWriteTransport() {
	suite.runReverseEcho(func(conn net.Conn) net.Conn {
		return &shortWriteConn{Conn: conn, maxWrite: 7}
	})
}

func (suite *SessionTestSuite) Test_LargeWrite() {

	pair := handshake(
		suite.T(), NewConfiguration(), suite.serverConfig(suite.pki.server), "", nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 5000)

	var group errgroup.Group
	group.Go(func() error {
		_, err := pair.client.Write(payload)
		return err
	})

	received := make([]byte, 0, len(payload))
	buffer := make([]byte, 4096)
	for len(received) < len(payload) {
		n, err := pair.server.Read(buffer)
		suite.Require().NoError(err)
		suite.LessOrEqual(pair.server.Pending(), maxPlaintextRecord)
		received = append(received, buffer[:n]...)
	}
	suite.Require().NoError(group.Wait())
	suite.Equal(payload, received)
}

func (suite *SessionTestSuite) Test_InvalidState() {

	config := suite.serverConfig(suite.pki.server)

	client, err := NewClientSession(config)
	suite.Require().NoError(err)

	_, err = client.Read(make([]byte, 1))
	suite.ErrorIs(err, ErrInvalidState)
	_, err = client.Write([]byte("x"))
	suite.ErrorIs(err, ErrInvalidState)
	_, err = client.Shutdown()
	suite.ErrorIs(err, ErrInvalidState)
	suite.ErrorIs(client.Handshake(), ErrInvalidState)
	suite.ErrorIs(client.Accept(), ErrInvalidState)

	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	suite.Require().NoError(client.BindTransport(clientConn))
	suite.Equal(StateConfiguring, client.State())
	suite.ErrorIs(client.BindTransport(clientConn), ErrInvalidState)

	server, err := NewServerSession(config)
	suite.Require().NoError(err)
	suite.ErrorIs(server.SetExpectedPeerName("localhost"), ErrInvalidState)
	suite.ErrorIs(server.Connect(), ErrInvalidState)
	suite.ErrorIs(server.BindTransport(nil), ErrConfig)

	suite.Require().NoError(client.Close())
	suite.Equal(StateClosed, client.State())
	suite.ErrorIs(client.Handshake(), ErrInvalidState)
	suite.ErrorIs(client.SetExpectedPeerName("localhost"), ErrInvalidState)
}

func (suite *SessionTestSuite) Test_FailedHandshakeLeavesTransportOpen() {

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	logger := testutils.NewTestLogger()
	config := NewConfiguration()
	suite.Require().NoError(config.SetLogger(logger))

	client, err := NewClientSession(config)
	suite.Require().NoError(err)

	conn, err := net.Dial("tcp", listener.Addr().String())
	suite.Require().NoError(err)
	countingConn := &closeCountingConn{Conn: conn}
	suite.Require().NoError(client.BindTransport(countingConn))

	handshakeErr := suite.handshakeError(client.Connect())
	suite.Equal(FailureTransport, handshakeErr.Reason)
	suite.Equal(StateError, client.State())
	suite.Equal(0, countingConn.closeCount())

	_, err = client.Write([]byte("x"))
	suite.ErrorIs(err, ErrInvalidState)

	suite.Require().NoError(client.Close())
	suite.Require().NoError(client.Close())
	suite.Equal(1, countingConn.closeCount())
	suite.Equal(StateError, client.State())

	suite.Contains(logger.Messages(), "session failed")
}

func (suite *SessionTestSuite) Test_ExpectedPeerName() {

	client, err := NewClientSession(NewConfiguration())
	suite.Require().NoError(err)

	suite.Require().NoError(client.SetExpectedPeerName("bücher.example"))
	suite.Equal("xn--bcher-kva.example", client.ExpectedPeerName())

	suite.Require().NoError(client.SetExpectedPeerName("::1"))
	suite.Equal("::1", client.ExpectedPeerName())

	suite.ErrorIs(client.SetExpectedPeerName(""), ErrConfig)
}

func (suite *SessionTestSuite) Test_SystemDefaultDoesNotEnforce() {

	clientConfig := NewConfiguration()
	suite.Require().NoError(clientConfig.SetVerification(VerifySystemDefault, ""))

	// The server chain is issued by the test root, which no platform trust
	// store contains.
	pair := handshake(
		suite.T(),
		clientConfig,
		suite.serverConfig(suite.pki.server),
		"localhost",
		nil)
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)

	suite.Equal(StateEstablished, pair.client.State())
	suite.Equal(VerifyUnableToGetIssuerLocally, pair.client.VerificationResult())
	suite.Len(pair.client.PeerCertificateChain(), 2)
}

// closeWriteRaw half-closes the TCP stream under a session, so the peer
// sees a FIN with no close_notify.
func (suite *SessionTestSuite) closeWriteRaw(conn *closeCountingConn) {
	tcpConn, ok := conn.Conn.(*net.TCPConn)
	suite.Require().True(ok)
	suite.Require().NoError(tcpConn.CloseWrite())
}

func (suite *SessionTestSuite) truncatablePair() (*sessionPair, *closeCountingConn) {
	var rawConn *closeCountingConn
	pair := handshake(
		suite.T(),
		suite.trustingConfig(),
		suite.serverConfig(suite.pki.server),
		"localhost",
		func(conn net.Conn) net.Conn {
			rawConn = &closeCountingConn{Conn: conn}
			return rawConn
		})
	suite.Require().NoError(pair.clientErr)
	suite.Require().NoError(pair.serverErr)
	return pair, rawConn
}

func (suite *SessionTestSuite) Test_TruncatedStream() {

	pair, rawConn := suite.truncatablePair()
	suite.closeWriteRaw(rawConn)

	n, err := pair.server.Read(make([]byte, 16))
	suite.Equal(0, n)
	suite.ErrorIs(err, ErrReadFailed)
	suite.NotErrorIs(err, io.EOF)
	suite.False(pair.server.PeerClosed())
	suite.Equal(StateError, pair.server.State())

	_, err = pair.server.Shutdown()
	suite.ErrorIs(err, ErrInvalidState)
	suite.Equal(StateError, pair.server.State())
}

func (suite *SessionTestSuite) Test_TruncatedStreamDuringShutdown() {

	pair, rawConn := suite.truncatablePair()

	status, err := pair.server.Shutdown()
	suite.Require().NoError(err)
	suite.Equal(ShutdownSent, status)

	suite.closeWriteRaw(rawConn)

	_, err = pair.server.Shutdown()
	suite.ErrorIs(err, ErrReadFailed)
	suite.False(pair.server.PeerClosed())
	suite.Equal(StateError, pair.server.State())
}

func (suite *SessionTestSuite) Test_CredentialMismatchAtHandshake() {

	// The client key with the server chain. SetCredential rejects it, so
	// it's installed directly to exercise the handshake-time check.
	mismatched, err := NewCredential(suite.pki.client.PrivateKey(), suite.pki.server.Chain())
	suite.Require().NoError(err)

	serverConfig := NewConfiguration()
	serverConfig.credential = mismatched

	pair := handshake(suite.T(), NewConfiguration(), serverConfig, "localhost", nil)

	suite.Require().Error(pair.serverErr)
	suite.ErrorIs(pair.serverErr, ErrCredentialMismatch)
	suite.NotErrorIs(pair.serverErr, ErrHandshakeFailed)
	suite.Equal(StateError, pair.server.State())
	suite.True(pair.server.LocalCredential() == mismatched)

	handshakeErr := suite.handshakeError(pair.clientErr)
	suite.NotEqual(FailureVerification, handshakeErr.Reason)
}
