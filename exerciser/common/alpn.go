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

package common

import (
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"golang.org/x/crypto/cryptobyte"
)

// MaxALPNProtocolLength is the largest protocol id the one byte ALPN length
// prefix can express.
const MaxALPNProtocolLength = 255

// ValidateALPNProtocol checks that protocol can be carried in an ALPN
// protocol_name_list entry.
func ValidateALPNProtocol(protocol string) error {
	if len(protocol) == 0 || len(protocol) > MaxALPNProtocolLength {
		return errors.Tracef("invalid ALPN protocol id length: %d", len(protocol))
	}
	return nil
}

// EncodeALPN returns the wire form of an ALPN protocol list: each protocol id
// prefixed by its one byte length, e.g. "\x02hi\x05world".
func EncodeALPN(protocols []string) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	for _, protocol := range protocols {
		err := ValidateALPNProtocol(protocol)
		if err != nil {
			return nil, errors.Trace(err)
		}
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes([]byte(protocol))
		})
	}
	wire, err := b.Bytes()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return wire, nil
}

// DecodeALPN parses the wire form produced by EncodeALPN.
func DecodeALPN(wire []byte) ([]string, error) {
	s := cryptobyte.String(wire)
	var protocols []string
	for !s.Empty() {
		var protocol cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&protocol) || protocol.Empty() {
			return nil, errors.TraceNew("malformed ALPN protocol list")
		}
		protocols = append(protocols, string(protocol))
	}
	return protocols, nil
}
