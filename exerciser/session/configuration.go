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
	"crypto/x509"
	"sync/atomic"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// ALPNMismatchPolicy determines how a server handles a client ALPN offer
// that shares no protocol with the server's list.
type ALPNMismatchPolicy int

const (
	// ALPNMismatchIgnore completes the handshake with no protocol selected.
	ALPNMismatchIgnore ALPNMismatchPolicy = iota

	// ALPNMismatchReject fails the handshake with a no_application_protocol
	// alert.
	ALPNMismatchReject
)

func (policy ALPNMismatchPolicy) String() string {
	if policy == ALPNMismatchReject {
		return "reject"
	}
	return "ignore"
}

// Configuration is a reusable template of TLS settings shared by the
// sessions created from it. A Configuration is frozen once its first
// session is created; subsequent mutations fail with ErrInvalidState.
//
// The zero value is not usable; call NewConfiguration.
type Configuration struct {
	frozen int32

	verifyMode           VerifyMode
	trustAnchorsFilename string
	trustAnchors         *x509.CertPool

	credential             *Credential
	alpn                   []string
	alpnMismatchPolicy     ALPNMismatchPolicy
	requirePeerCertificate bool

	engine Engine
	logger common.Logger
}

// NewConfiguration returns a Configuration with verification disabled, no
// credential, no ALPN list and the crypto/tls engine.
func NewConfiguration() *Configuration {
	return &Configuration{
		verifyMode: VerifyDisabled,
		engine:     CryptoTLSEngine{},
		logger:     common.NopLogger{},
	}
}

func (config *Configuration) checkMutable() error {
	if atomic.LoadInt32(&config.frozen) == 1 {
		return errors.Tracef("%w: configuration is in use", ErrInvalidState)
	}
	return nil
}

func (config *Configuration) freeze() {
	atomic.StoreInt32(&config.frozen, 1)
}

// SetVerification selects the peer verification mode.
//
// VerifyCustom requires trustAnchorsFilename, a PEM or DER bundle of trust
// anchors, and fails handshakes on an unverified peer chain.
// VerifySystemDefault loads the platform trust store and ignores
// trustAnchorsFilename. VerifyDisabled accepts an optional bundle. In those
// two modes the handshake never fails on the peer chain, but the reported
// verification result is computed against the anchors.
func (config *Configuration) SetVerification(
	mode VerifyMode, trustAnchorsFilename string) error {

	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}

	var anchors *x509.CertPool

	switch mode {

	case VerifyDisabled, VerifyCustom:
		if trustAnchorsFilename == "" {
			if mode == VerifyCustom {
				return errors.Tracef("%w: missing trust anchors", ErrConfig)
			}
			break
		}
		certificates, err := LoadCertificates(trustAnchorsFilename)
		if err != nil {
			return errors.Trace(err)
		}
		anchors = x509.NewCertPool()
		for _, certificate := range certificates {
			anchors.AddCert(certificate)
		}

	case VerifySystemDefault:
		anchors, err = x509.SystemCertPool()
		if err != nil {
			return errors.Trace(kindError(ErrLoadFailed, err))
		}
		trustAnchorsFilename = ""

	default:
		return errors.Tracef("%w: unknown verify mode %d", ErrConfig, int(mode))
	}

	config.verifyMode = mode
	config.trustAnchorsFilename = trustAnchorsFilename
	config.trustAnchors = anchors
	return nil
}

// SetCredential installs the local credential. A nil credential clears it.
// A credential whose private key does not match its leaf certificate is
// rejected with ErrCredentialMismatch.
func (config *Configuration) SetCredential(credential *Credential) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	if credential != nil {
		err = credential.Check()
		if err != nil {
			return errors.Trace(err)
		}
	}
	config.credential = credential
	return nil
}

// LoadCredential loads a PEM private key and certificate chain and installs
// the result as the local credential.
func (config *Configuration) LoadCredential(keyFilename, chainFilename string) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	credential, err := LoadCredential(keyFilename, chainFilename)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(config.SetCredential(credential))
}

// SetALPN sets the local ALPN protocol list, in preference order. An empty
// list disables ALPN.
func (config *Configuration) SetALPN(protocols []string) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	for _, protocol := range protocols {
		err := common.ValidateALPNProtocol(protocol)
		if err != nil {
			return errors.Trace(kindError(ErrConfig, err))
		}
	}
	config.alpn = append([]string(nil), protocols...)
	return nil
}

// SetALPNWire sets the local ALPN protocol list from its wire encoding, a
// sequence of 1-byte length-prefixed names.
func (config *Configuration) SetALPNWire(wire []byte) error {
	protocols, err := common.DecodeALPN(wire)
	if err != nil {
		return errors.Trace(kindError(ErrConfig, err))
	}
	return errors.Trace(config.SetALPN(protocols))
}

func (config *Configuration) SetALPNMismatchPolicy(policy ALPNMismatchPolicy) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	if policy != ALPNMismatchIgnore && policy != ALPNMismatchReject {
		return errors.Tracef("%w: unknown ALPN mismatch policy %d", ErrConfig, int(policy))
	}
	config.alpnMismatchPolicy = policy
	return nil
}

// SetRequirePeerCertificate makes a verifying server fail handshakes with
// clients that present no certificate. By default a verifying server
// requests a client certificate and verifies it only if one is given.
func (config *Configuration) SetRequirePeerCertificate(require bool) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	config.requirePeerCertificate = require
	return nil
}

func (config *Configuration) SetEngine(engine Engine) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	if engine == nil {
		return errors.Tracef("%w: missing engine", ErrConfig)
	}
	config.engine = engine
	return nil
}

// SetLogger sets the logger used by sessions. A nil logger discards logs.
func (config *Configuration) SetLogger(logger common.Logger) error {
	err := config.checkMutable()
	if err != nil {
		return errors.Trace(err)
	}
	if logger == nil {
		logger = common.NopLogger{}
	}
	config.logger = logger
	return nil
}

// LocalCredential returns the installed credential handle, or nil.
func (config *Configuration) LocalCredential() *Credential {
	return config.credential
}

// LocalCertificate returns the installed credential's leaf certificate, or
// nil.
func (config *Configuration) LocalCertificate() *x509.Certificate {
	if config.credential == nil {
		return nil
	}
	return config.credential.Leaf()
}

func (config *Configuration) ALPN() []string {
	return append([]string(nil), config.alpn...)
}

func (config *Configuration) ALPNMismatchPolicy() ALPNMismatchPolicy {
	return config.alpnMismatchPolicy
}

func (config *Configuration) VerifyMode() VerifyMode {
	return config.verifyMode
}

func (config *Configuration) TrustAnchorsFilename() string {
	return config.trustAnchorsFilename
}

func (config *Configuration) Engine() Engine {
	return config.engine
}

// verificationPolicy returns the policy applied to the peer of a session
// in the given role: clients verify servers and servers verify clients.
func (config *Configuration) verificationPolicy(isServer bool) *verificationPolicy {
	roots := config.trustAnchors
	if roots == nil {
		roots = x509.NewCertPool()
	}
	usage := x509.ExtKeyUsageServerAuth
	if isServer {
		usage = x509.ExtKeyUsageClientAuth
	}
	return &verificationPolicy{
		mode:  config.verifyMode,
		roots: roots,
		usage: usage,
	}
}
