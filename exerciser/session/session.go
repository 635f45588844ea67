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

/*

Package session implements TLS client and server sessions over a
caller-supplied byte stream. A Configuration holds the shared settings
(verification policy, local credential, ALPN), and each Session runs one
handshake followed by record-protected data exchange and an orderly
close_notify shutdown.

Sessions aren't safe for concurrent use; a session is driven by a single
goroutine.

*/
package session

import (
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"golang.org/x/net/idna"
)

// State is a session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateConfiguring
	StateHandshaking
	StateEstablished
	StateShuttingDown
	StateClosed
	StateError
)

func (state State) String() string {
	switch state {
	case StateCreated:
		return "created"
	case StateConfiguring:
		return "configuring"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(state))
}

// stateTransitions lists the permitted successors of each state. Error and
// Closed are terminal.
var stateTransitions = map[State][]State{
	StateCreated:      {StateConfiguring, StateClosed, StateError},
	StateConfiguring:  {StateHandshaking, StateClosed, StateError},
	StateHandshaking:  {StateEstablished, StateClosed, StateError},
	StateEstablished:  {StateShuttingDown, StateClosed, StateError},
	StateShuttingDown: {StateClosed, StateError},
}

// NegotiatedParameters is a snapshot of the parameters agreed in a
// completed handshake.
type NegotiatedParameters struct {
	Version     string
	CipherSuite string

	// Protocol is the selected ALPN protocol, or "" when none was selected.
	Protocol string

	PeerCertificates []*x509.Certificate
	VerifyResult     VerifyResult
}

// Session is one TLS connection, in the client or server role.
type Session struct {
	config   *Configuration
	isServer bool
	logger   common.Logger
	engine   Engine
	policy   *verificationPolicy

	credential         *Credential
	resolvedCredential *Credential
	credentialErr      error

	expectedPeerName string

	state   State
	failure error

	transport *transport
	conn      EngineConn

	negotiated     *NegotiatedParameters
	verifyResult   VerifyResult
	verifyErr      error
	presentedChain []*x509.Certificate
	verifiedChain  []*x509.Certificate

	readBuffer []byte
	readStart  int
	readEnd    int
	readErr    error
	peerClosed bool
}

// NewClientSession creates a client session from config, which is frozen.
func NewClientSession(config *Configuration) (*Session, error) {
	return newSession(config, false)
}

// NewServerSession creates a server session from config, which is frozen.
// A server requires a local credential.
func NewServerSession(config *Configuration) (*Session, error) {
	return newSession(config, true)
}

func newSession(config *Configuration, isServer bool) (*Session, error) {
	if config == nil {
		return nil, errors.Tracef("%w: missing configuration", ErrConfig)
	}
	if isServer && config.LocalCredential() == nil {
		return nil, errors.Tracef("%w: server requires a credential", ErrConfig)
	}

	config.freeze()

	return &Session{
		config:     config,
		isServer:   isServer,
		logger:     config.logger,
		engine:     config.engine,
		policy:     config.verificationPolicy(isServer),
		credential: config.LocalCredential(),
		state:      StateCreated,
	}, nil
}

func (s *Session) IsServer() bool {
	return s.isServer
}

func (s *Session) State() State {
	return s.state
}

// Failure returns the error that moved the session into StateError.
func (s *Session) Failure() error {
	return s.failure
}

func (s *Session) role() string {
	if s.isServer {
		return "server"
	}
	return "client"
}

func (s *Session) transition(next State) error {
	permitted := false
	for _, state := range stateTransitions[s.state] {
		if state == next {
			permitted = true
			break
		}
	}
	if !permitted {
		return errors.Tracef(
			"%w: transition from %s to %s", ErrInvalidState, s.state, next)
	}

	s.logger.WithTraceFields(common.LogFields{
		"role": s.role(),
		"from": s.state.String(),
		"to":   next.String(),
	}).Debug("session state")

	s.state = next
	return nil
}

func (s *Session) checkState(operation string, states ...State) error {
	for _, state := range states {
		if s.state == state {
			return nil
		}
	}
	return errors.Tracef(
		"%w: %s not permitted in state %s", ErrInvalidState, operation, s.state)
}

// fail moves the session into StateError and returns err.
func (s *Session) fail(err error) error {
	if s.state == StateError || s.state == StateClosed {
		return err
	}
	s.failure = err
	_ = s.transition(StateError)
	s.logger.WithTraceFields(common.LogFields{
		"role":  s.role(),
		"error": err.Error(),
	}).Warning("session failed")
	return err
}

// BindTransport attaches the byte stream the session runs over. The session
// takes ownership of conn: Close closes it, exactly once. A transport may be
// bound only once, before the handshake.
func (s *Session) BindTransport(conn net.Conn) error {
	err := s.checkState("bind transport", StateCreated)
	if err != nil {
		return errors.Trace(err)
	}
	if conn == nil {
		return errors.Tracef("%w: missing transport", ErrConfig)
	}
	s.transport = newTransport(conn)
	return errors.Trace(s.transition(StateConfiguring))
}

// SetExpectedPeerName sets the name a client verifies the server leaf
// against, which is also sent as SNI unless it's an IP address.
// Internationalized domain names are converted to their ASCII form.
func (s *Session) SetExpectedPeerName(name string) error {
	if s.isServer {
		return errors.Tracef("%w: expected peer name is client only", ErrInvalidState)
	}
	err := s.checkState("set expected peer name", StateCreated, StateConfiguring)
	if err != nil {
		return errors.Trace(err)
	}
	if name == "" {
		return errors.Tracef("%w: empty peer name", ErrConfig)
	}
	if net.ParseIP(name) == nil {
		name, err = idna.Lookup.ToASCII(name)
		if err != nil {
			return errors.Trace(kindError(ErrConfig, err))
		}
	}
	s.expectedPeerName = name
	return nil
}

func (s *Session) ExpectedPeerName() string {
	return s.expectedPeerName
}

// Connect performs the client handshake.
func (s *Session) Connect() error {
	if s.isServer {
		return errors.Tracef("%w: connect on a server session", ErrInvalidState)
	}
	return errors.Trace(s.Handshake())
}

// Accept performs the server handshake.
func (s *Session) Accept() error {
	if !s.isServer {
		return errors.Tracef("%w: accept on a client session", ErrInvalidState)
	}
	return errors.Trace(s.Handshake())
}

// Handshake runs the TLS handshake in the session's role. A failed handshake
// moves the session into StateError with a *HandshakeError, or
// ErrCredentialMismatch; the transport is left open for the owner to Close.
func (s *Session) Handshake() error {
	err := s.checkState("handshake", StateConfiguring)
	if err != nil {
		return errors.Trace(err)
	}
	err = s.transition(StateHandshaking)
	if err != nil {
		return errors.Trace(err)
	}

	params := s.handshakeParameters()

	var conn EngineConn
	if s.isServer {
		conn, err = s.engine.Server(s.transport, params)
	} else {
		conn, err = s.engine.Client(s.transport, params)
	}
	if err != nil {
		return s.fail(errors.Trace(kindError(ErrConfig, err)))
	}
	s.conn = conn

	err = conn.Handshake()
	if err != nil {
		return s.fail(errors.Trace(s.handshakeFailure(err)))
	}

	state := conn.ConnectionState()
	s.negotiated = &NegotiatedParameters{
		Version:          VersionName(state.Version),
		CipherSuite:      state.CipherSuiteName,
		Protocol:         state.NegotiatedProtocol,
		PeerCertificates: s.PeerCertificateChain(),
		VerifyResult:     s.verifyResult,
	}

	err = s.transition(StateEstablished)
	if err != nil {
		return errors.Trace(err)
	}

	s.logger.WithTraceFields(common.LogFields{
		"role":         s.role(),
		"engine":       s.engine.Name(),
		"version":      s.negotiated.Version,
		"cipher":       s.negotiated.CipherSuite,
		"alpn":         s.negotiated.Protocol,
		"verifyResult": int(s.verifyResult),
	}).Info("handshake completed")

	return nil
}

func (s *Session) handshakeParameters() *HandshakeParameters {
	params := &HandshakeParameters{
		NextProtos:    s.config.ALPN(),
		GetCredential: s.resolveCredential,
		VerifyPeer:    s.verifyPeer,
	}
	if s.isServer {
		params.ClientAuth = s.clientAuthMode()
		if len(params.NextProtos) > 0 {
			params.SelectProtocols = s.selectProtocols
		}
	} else {
		params.ServerName = s.expectedPeerName
	}
	return params
}

// handshakeFailure classifies a handshake error. A rejected peer chain takes
// precedence over the transport failure that may follow the alert.
func (s *Session) handshakeFailure(err error) error {
	if s.credentialErr != nil {
		return kindError(s.credentialErr, err)
	}
	if s.verifyErr != nil {
		return &HandshakeError{
			Reason:       FailureVerification,
			VerifyResult: s.verifyResult,
			Err:          err,
		}
	}
	if s.transport.failure() != nil {
		return &HandshakeError{Reason: FailureTransport, Err: err}
	}
	return &HandshakeError{Reason: FailureProtocolAlert, Err: err}
}

func (s *Session) clientAuthMode() ClientAuthMode {
	if s.policy.mode == VerifyDisabled {
		return ClientAuthNone
	}
	if s.config.requirePeerCertificate {
		return ClientAuthRequire
	}
	return ClientAuthRequest
}

// selectProtocols picks the first server protocol the client offered. With
// no overlap, the reject policy returns the full server list so the engine
// fails the handshake.
func (s *Session) selectProtocols(offered []string) []string {
	for _, protocol := range s.config.alpn {
		if common.Contains(offered, protocol) {
			return []string{protocol}
		}
	}
	if len(offered) > 0 && s.config.alpnMismatchPolicy == ALPNMismatchReject {
		return s.config.ALPN()
	}
	return nil
}

func (s *Session) resolveCredential() (*Credential, error) {
	credential := s.credential
	if credential == nil {
		return nil, nil
	}
	err := credential.Check()
	if err != nil {
		s.credentialErr = err
		return nil, errors.Trace(err)
	}
	s.resolvedCredential = credential
	return credential, nil
}

func (s *Session) verifyPeer(peerCertificates []*x509.Certificate) error {
	s.presentedChain = peerCertificates

	dnsName := ""
	if !s.isServer {
		dnsName = s.expectedPeerName
	}

	verifiedChain, result, err := s.policy.evaluate(peerCertificates, dnsName, time.Now())
	s.verifyResult = result
	s.verifiedChain = verifiedChain

	if result != VerifyOK && s.policy.enforce() {
		s.verifyErr = err
		return errors.Trace(err)
	}
	return nil
}

func (s *Session) established() bool {
	return s.negotiated != nil
}

// NegotiatedParameters returns the handshake results, or nil before the
// handshake completes.
func (s *Session) NegotiatedParameters() *NegotiatedParameters {
	if !s.established() {
		return nil
	}
	negotiated := *s.negotiated
	return &negotiated
}

// NegotiatedProtocol returns the selected ALPN protocol and true, or false
// when none was selected.
func (s *Session) NegotiatedProtocol() (string, bool) {
	if !s.established() || s.negotiated.Protocol == "" {
		return "", false
	}
	return s.negotiated.Protocol, true
}

// Version returns the negotiated protocol version name, such as "TLSv1.3".
func (s *Session) Version() string {
	if !s.established() {
		return ""
	}
	return s.negotiated.Version
}

// Cipher returns the negotiated cipher suite name.
func (s *Session) Cipher() string {
	if !s.established() {
		return ""
	}
	return s.negotiated.CipherSuite
}

// PeerCertificateChain returns the verified chain, ending at a trust anchor,
// when verification is enforced and succeeded; otherwise the chain the peer
// presented, which may be empty.
func (s *Session) PeerCertificateChain() []*x509.Certificate {
	if s.policy.enforce() && s.verifiedChain != nil {
		return append([]*x509.Certificate(nil), s.verifiedChain...)
	}
	return append([]*x509.Certificate(nil), s.presentedChain...)
}

// VerificationResult returns the outcome of evaluating the peer chain
// against the trust anchors. It's computed in every verify mode, and is
// VerifyOK before the peer chain is received.
func (s *Session) VerificationResult() VerifyResult {
	return s.verifyResult
}

// LocalCredential returns the credential this session authenticates with:
// the handle resolved during the handshake once that has happened, or the
// configuration's credential before. These are the same handle.
func (s *Session) LocalCredential() *Credential {
	if s.resolvedCredential != nil {
		return s.resolvedCredential
	}
	return s.credential
}

// LocalCertificate returns the local credential's leaf, or nil.
func (s *Session) LocalCertificate() *x509.Certificate {
	credential := s.LocalCredential()
	if credential == nil {
		return nil
	}
	return credential.Leaf()
}

// Close releases the transport, closing it exactly once, and discards
// buffered plaintext. Close may be called in any state; a failed session
// stays in StateError.
func (s *Session) Close() error {
	var err error
	if s.transport != nil {
		err = s.transport.Close()
	}
	s.readBuffer = nil
	s.readStart, s.readEnd = 0, 0
	if s.state != StateError && s.state != StateClosed {
		_ = s.transition(StateClosed)
	}
	return errors.Trace(err)
}
