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
	"net"
	"sync"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// transport wraps the caller-supplied byte stream bound to a session. It
// loops over short writes, records the first I/O failure, which is used
// to classify handshake failures, and closes the underlying conn at most
// once.
type transport struct {
	net.Conn

	mutex   sync.Mutex
	ioError error
	readEOF bool

	closeOnce sync.Once
	closeErr  error
}

func newTransport(conn net.Conn) *transport {
	return &transport{Conn: conn}
}

func (t *transport) Read(b []byte) (int, error) {
	n, err := t.Conn.Read(b)
	if err != nil {
		t.recordError(err)
	}
	if err == io.EOF {
		t.mutex.Lock()
		t.readEOF = true
		t.mutex.Unlock()
	}
	return n, err
}

func (t *transport) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := t.Conn.Write(b[written:])
		written += n
		if err != nil {
			t.recordError(err)
			return written, err
		}
		if n == 0 {
			t.recordError(io.ErrShortWrite)
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Close closes the underlying conn. Subsequent calls are no-ops.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.Conn.Close()
	})
	return errors.Trace(t.closeErr)
}

func (t *transport) recordError(err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.ioError == nil {
		t.ioError = err
	}
}

// failure returns the first recorded I/O error, including io.EOF.
func (t *transport) failure() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.ioError
}

// closedWithoutNotify reports whether the underlying stream reached EOF. The
// TLS layer stops reading once it receives close_notify, so a stream EOF
// means the peer closed without sending one.
func (t *transport) closedWithoutNotify() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.readEOF
}
