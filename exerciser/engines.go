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
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/engine/psiphontls"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/engine/utlsclient"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/session"
)

// EngineNames lists the supported engine names.
func EngineNames() []string {
	return []string{
		session.CryptoTLSEngine{}.Name(),
		psiphontls.EngineName,
		utlsclient.EngineName,
	}
}

// NewEngine returns the named engine for the client or server role.
func NewEngine(name string, isServer bool) (session.Engine, error) {
	switch name {
	case "", session.CryptoTLSEngine{}.Name():
		return session.CryptoTLSEngine{}, nil
	case psiphontls.EngineName:
		return psiphontls.Engine{}, nil
	case utlsclient.EngineName:
		if isServer {
			return nil, errors.Tracef("engine %s is client only", name)
		}
		return utlsclient.Engine{}, nil
	}
	return nil, errors.Tracef("unknown engine: %s", name)
}
