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
	"io"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// maxPlaintextRecord is the TLS maximum plaintext record size. Reads
// decrypt at most one record into the session buffer.
const maxPlaintextRecord = 16384

// ShutdownStatus is the progress of a bidirectional close_notify exchange.
type ShutdownStatus int

const (
	// ShutdownSent indicates the local close_notify was sent and the peer's
	// has not yet been received.
	ShutdownSent ShutdownStatus = iota

	// ShutdownComplete indicates close_notify was both sent and received.
	ShutdownComplete
)

func (status ShutdownStatus) String() string {
	if status == ShutdownComplete {
		return "complete"
	}
	return "sent"
}

// Write encrypts and sends all of b, returning len(b) on success. A failure
// moves the session into StateError with ErrWriteFailed.
func (s *Session) Write(b []byte) (int, error) {
	err := s.checkState("write", StateEstablished)
	if err != nil {
		return 0, errors.Trace(err)
	}
	written := 0
	for written < len(b) {
		n, err := s.conn.Write(b[written:])
		written += n
		if err != nil {
			return written, s.fail(errors.Trace(kindError(ErrWriteFailed, err)))
		}
		if n == 0 {
			return written, s.fail(errors.Trace(kindError(ErrWriteFailed, io.ErrShortWrite)))
		}
	}
	return written, nil
}

// Read returns up to len(b) bytes of decrypted application data. Data from a
// received record that doesn't fit in b stays buffered; see Pending. Once
// the peer's close_notify is received and the buffer is drained, Read
// returns 0, io.EOF. Other failures, including a transport that ends
// without close_notify, move the session into StateError with
// ErrReadFailed.
func (s *Session) Read(b []byte) (int, error) {
	err := s.checkState("read", StateEstablished, StateShuttingDown)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	if s.Pending() == 0 {
		err := s.fill()
		if err != nil {
			return 0, err
		}
	}
	n := copy(b, s.readBuffer[s.readStart:s.readEnd])
	s.readStart += n
	return n, nil
}

// fill reads the next record into the empty buffer.
func (s *Session) fill() error {
	if s.peerClosed {
		return io.EOF
	}
	if s.readErr != nil {
		return s.fail(errors.Trace(kindError(ErrReadFailed, s.readErr)))
	}
	if s.readBuffer == nil {
		s.readBuffer = make([]byte, maxPlaintextRecord)
	}
	for {
		n, err := s.conn.Read(s.readBuffer)
		s.readStart, s.readEnd = 0, n

		if err == io.EOF && s.transport.closedWithoutNotify() {
			// The stream ended at a record boundary with no close_notify.
			err = io.ErrUnexpectedEOF
		}

		if err == io.EOF {
			s.peerClosed = true
			if n > 0 {
				return nil
			}
			return io.EOF
		}
		if err != nil {
			if n > 0 {
				// Deliver the data; the failure is reported on the next fill.
				s.readErr = err
				return nil
			}
			return s.fail(errors.Trace(kindError(ErrReadFailed, err)))
		}
		if n > 0 {
			return nil
		}
	}
}

// Pending returns the number of decrypted bytes buffered and immediately
// readable without blocking.
func (s *Session) Pending() int {
	return s.readEnd - s.readStart
}

// HasPending reports whether buffered plaintext is available.
func (s *Session) HasPending() bool {
	return s.Pending() > 0
}

// PeerClosed reports whether the peer's close_notify has been received.
func (s *Session) PeerClosed() bool {
	return s.peerClosed
}

// Shutdown performs the orderly close_notify exchange. The first call sends
// close_notify and returns ShutdownSent, or ShutdownComplete if the peer's
// close_notify was already received. A subsequent call reads and discards
// application data until the peer's close_notify arrives, then returns
// ShutdownComplete. On completion the transport is released and the session
// is closed. Shutdown on a closed session returns ShutdownComplete.
func (s *Session) Shutdown() (ShutdownStatus, error) {
	switch s.state {

	case StateClosed:
		return ShutdownComplete, nil

	case StateEstablished:
		err := s.conn.CloseWrite()
		if err != nil {
			return ShutdownSent, s.fail(errors.Trace(kindError(ErrWriteFailed, err)))
		}
		err = s.transition(StateShuttingDown)
		if err != nil {
			return ShutdownSent, errors.Trace(err)
		}
		if !s.peerClosed {
			return ShutdownSent, nil
		}

	case StateShuttingDown:
		for !s.peerClosed {
			s.readStart, s.readEnd = 0, 0
			err := s.fill()
			if err != nil && err != io.EOF {
				return ShutdownSent, errors.Trace(err)
			}
		}

	default:
		return ShutdownSent, errors.Tracef(
			"%w: shutdown not permitted in state %s", ErrInvalidState, s.state)
	}

	return ShutdownComplete, errors.Trace(s.Close())
}
