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
	std_errors "errors"
	"fmt"
)

// Error kinds. Failures returned by this package match one of these with
// errors.Is. The exceptions are the io.EOF that Read returns after the
// peer's close_notify, and errors from closing the bound transport, which
// Close returns as is.
var (
	ErrConfig             = std_errors.New("session: configuration error")
	ErrInvalidState       = std_errors.New("session: invalid state")
	ErrHandshakeFailed    = std_errors.New("session: handshake failed")
	ErrCredentialMismatch = std_errors.New("session: private key does not match certificate")
	ErrWriteFailed        = std_errors.New("session: write failed")
	ErrReadFailed         = std_errors.New("session: read failed")
	ErrLoadFailed         = std_errors.New("session: load failed")
)

// FailureReason distinguishes the causes of a failed handshake.
type FailureReason int

const (
	// FailureTransport indicates the byte stream failed or closed before the
	// handshake completed: the peer is unreachable.
	FailureTransport FailureReason = iota

	// FailureProtocolAlert indicates a TLS protocol failure, either an alert
	// received from the peer or a local protocol error sent as an alert.
	FailureProtocolAlert

	// FailureVerification indicates the peer certificate chain was rejected
	// by the verification policy: the peer is untrusted.
	FailureVerification
)

func (reason FailureReason) String() string {
	switch reason {
	case FailureTransport:
		return "transport"
	case FailureProtocolAlert:
		return "protocol-alert"
	case FailureVerification:
		return "verification"
	}
	return fmt.Sprintf("FailureReason(%d)", int(reason))
}

// HandshakeError is returned by Session.Handshake. VerifyResult is set when
// Reason is FailureVerification.
type HandshakeError struct {
	Reason       FailureReason
	VerifyResult VerifyResult
	Err          error
}

func (e *HandshakeError) Error() string {
	if e.Reason == FailureVerification {
		return fmt.Sprintf("%s: %s: %s: %v", ErrHandshakeFailed, e.Reason, e.VerifyResult, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrHandshakeFailed, e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeFailed
}

// kindError attaches an error kind to an underlying cause.
func kindError(kind error, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}
