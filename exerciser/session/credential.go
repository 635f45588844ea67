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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// Credential is a private key paired with its certificate chain, leaf
// first. A Credential is immutable; *Credential is the handle through which
// configurations and sessions share it, and two handles denote the same
// credential exactly when the pointers are equal.
type Credential struct {
	privateKey crypto.Signer
	chain      []*x509.Certificate
	rawChain   [][]byte
	mismatch   error
}

// NewCredential creates a credential from a private key and a non-empty
// certificate chain. Correspondence between the key and the leaf is
// checked when the credential is set on a Configuration and again when it
// is resolved during a handshake.
func NewCredential(privateKey crypto.Signer, chain []*x509.Certificate) (*Credential, error) {
	if privateKey == nil {
		return nil, errors.Trace(kindError(ErrConfig, errors.TraceNew("missing private key")))
	}
	if len(chain) == 0 {
		return nil, errors.Trace(kindError(ErrConfig, errors.TraceNew("empty certificate chain")))
	}
	rawChain := make([][]byte, len(chain))
	for i, certificate := range chain {
		rawChain[i] = certificate.Raw
	}
	credential := &Credential{
		privateKey: privateKey,
		chain:      append([]*x509.Certificate(nil), chain...),
		rawChain:   rawChain,
	}
	if !publicKeysEqual(privateKey.Public(), chain[0].PublicKey) {
		credential.mismatch = ErrCredentialMismatch
	}
	return credential, nil
}

// LoadCredential reads a PEM private key and a PEM certificate chain, leaf
// first. Unreadable or unparseable files fail with ErrLoadFailed.
func LoadCredential(keyFilename, chainFilename string) (*Credential, error) {

	chain, err := LoadCertificates(chainFilename)
	if err != nil {
		return nil, errors.Trace(err)
	}

	keyPEM, err := os.ReadFile(keyFilename)
	if err != nil {
		return nil, errors.Trace(kindError(ErrLoadFailed, err))
	}

	privateKey, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, errors.Trace(kindError(ErrLoadFailed, err))
	}

	credential, err := NewCredential(privateKey, chain)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return credential, nil
}

// LoadCertificates reads every CERTIFICATE block from a PEM file, in file
// order. A file with no PEM blocks is parsed as DER. A file with no
// certificates fails with ErrLoadFailed.
func LoadCertificates(filename string) ([]*x509.Certificate, error) {

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Trace(kindError(ErrLoadFailed, err))
	}

	if block, _ := pem.Decode(data); block == nil && len(data) > 0 {
		certificates, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, errors.Trace(kindError(ErrLoadFailed, err))
		}
		return certificates, nil
	}

	var certificates []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		certificate, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Trace(kindError(ErrLoadFailed, err))
		}
		certificates = append(certificates, certificate)
	}

	if len(certificates) == 0 {
		return nil, errors.Trace(
			kindError(ErrLoadFailed, errors.Tracef("no certificates in %s", filename)))
	}
	return certificates, nil
}

// PrivateKey returns the credential's signing key.
func (credential *Credential) PrivateKey() crypto.Signer {
	return credential.privateKey
}

// Leaf returns the end entity certificate. The same *x509.Certificate is
// returned on every call.
func (credential *Credential) Leaf() *x509.Certificate {
	return credential.chain[0]
}

// Chain returns the certificate chain, leaf first.
func (credential *Credential) Chain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), credential.chain...)
}

// RawChain returns the DER encoded chain as presented in a handshake.
func (credential *Credential) RawChain() [][]byte {
	return credential.rawChain
}

// Check returns ErrCredentialMismatch when the private key does not
// correspond to the leaf certificate.
func (credential *Credential) Check() error {
	return credential.mismatch
}

// Same reports whether two handles denote the same credential.
func (credential *Credential) Same(other *Credential) bool {
	return credential == other
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.TraceNew("no private key found")
		}
		switch block.Type {
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Trace(err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, errors.TraceNew("unsupported private key type")
			}
			return signer, nil
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return key, nil
		}
	}
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch a := a.(type) {
	case *rsa.PublicKey:
		return a.Equal(b)
	case *ecdsa.PublicKey:
		return a.Equal(b)
	case ed25519.PublicKey:
		return a.Equal(b)
	}
	aBytes, errA := x509.MarshalPKIXPublicKey(a)
	bBytes, errB := x509.MarshalPKIXPublicKey(b)
	return errA == nil && errB == nil && bytes.Equal(aBytes, bBytes)
}
