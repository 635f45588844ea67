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
	"crypto/x509"
	"fmt"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// VerifyMode selects how a peer certificate chain is validated.
type VerifyMode int

const (
	// VerifyDisabled performs no chain validation; the handshake never
	// fails on the peer chain. A verification result is still computed.
	VerifyDisabled VerifyMode = iota

	// VerifySystemDefault loads the platform trust store. Like
	// VerifyDisabled, the handshake doesn't fail on the peer chain; the
	// verification result reports the chain against the platform anchors.
	VerifySystemDefault

	// VerifyCustom validates against exactly the trust anchors loaded from
	// a PEM bundle.
	VerifyCustom
)

func (mode VerifyMode) String() string {
	switch mode {
	case VerifyDisabled:
		return "disabled"
	case VerifySystemDefault:
		return "system-default"
	case VerifyCustom:
		return "custom"
	}
	return fmt.Sprintf("VerifyMode(%d)", int(mode))
}

// VerifyResult is the outcome of peer chain verification. Zero means
// verification succeeded or was not required; the nonzero values use the
// numbering of the common X509_V_ERR table.
type VerifyResult int

const (
	VerifyOK                       VerifyResult = 0
	VerifyUnspecified              VerifyResult = 1
	VerifyCertNotYetValid          VerifyResult = 9
	VerifyCertHasExpired           VerifyResult = 10
	VerifyDepthZeroSelfSignedCert  VerifyResult = 18
	VerifySelfSignedCertInChain    VerifyResult = 19
	VerifyUnableToGetIssuerLocally VerifyResult = 20
	VerifyInvalidPurpose           VerifyResult = 26
	VerifyHostnameMismatch         VerifyResult = 62
)

func (result VerifyResult) String() string {
	switch result {
	case VerifyOK:
		return "ok"
	case VerifyUnspecified:
		return "unspecified certificate verification error"
	case VerifyCertNotYetValid:
		return "certificate is not yet valid"
	case VerifyCertHasExpired:
		return "certificate has expired"
	case VerifyDepthZeroSelfSignedCert:
		return "self-signed certificate"
	case VerifySelfSignedCertInChain:
		return "self-signed certificate in certificate chain"
	case VerifyUnableToGetIssuerLocally:
		return "unable to get local issuer certificate"
	case VerifyInvalidPurpose:
		return "unsupported certificate purpose"
	case VerifyHostnameMismatch:
		return "hostname mismatch"
	}
	return fmt.Sprintf("VerifyResult(%d)", int(result))
}

// verificationPolicy is the per-session view of a Configuration's
// verification settings.
type verificationPolicy struct {
	mode VerifyMode

	// roots is the anchor set chains are built to. For VerifyDisabled it's
	// any configured anchors, or an empty pool.
	roots *x509.CertPool

	usage x509.ExtKeyUsage
}

// enforce reports whether a nonzero result fails the handshake.
func (policy *verificationPolicy) enforce() bool {
	return policy.mode == VerifyCustom
}

// evaluate verifies a presented chain, leaf first, returning the verified
// chain, which ends at a trust anchor. An empty chain yields VerifyOK:
// there's nothing to verify. dnsName, when set, is matched against the leaf
// after the chain is validated.
func (policy *verificationPolicy) evaluate(
	chain []*x509.Certificate,
	dnsName string,
	now time.Time) ([]*x509.Certificate, VerifyResult, error) {

	if len(chain) == 0 {
		return nil, VerifyOK, nil
	}

	intermediates := x509.NewCertPool()
	for _, certificate := range chain[1:] {
		intermediates.AddCert(certificate)
	}

	verifiedChains, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         policy.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{policy.usage},
	})
	if err != nil {
		return nil, classifyVerifyError(err, chain, now), errors.Trace(err)
	}

	if dnsName != "" {
		err = chain[0].VerifyHostname(dnsName)
		if err != nil {
			return nil, VerifyHostnameMismatch, errors.Trace(err)
		}
	}

	return verifiedChains[0], VerifyOK, nil
}

func classifyVerifyError(err error, chain []*x509.Certificate, now time.Time) VerifyResult {

	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		switch invalidErr.Reason {
		case x509.Expired:
			if invalidErr.Cert != nil && now.Before(invalidErr.Cert.NotBefore) {
				return VerifyCertNotYetValid
			}
			return VerifyCertHasExpired
		case x509.IncompatibleUsage:
			return VerifyInvalidPurpose
		}
		return VerifyUnspecified
	}

	var unknownAuthorityErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthorityErr) {
		if len(chain) == 1 && isSelfSigned(chain[0]) {
			return VerifyDepthZeroSelfSignedCert
		}
		if len(chain) > 1 && isSelfSigned(chain[len(chain)-1]) {
			return VerifySelfSignedCertInChain
		}
		return VerifyUnableToGetIssuerLocally
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return VerifyHostnameMismatch
	}

	return VerifyUnspecified
}

func isSelfSigned(certificate *x509.Certificate) bool {
	return bytes.Equal(certificate.RawIssuer, certificate.RawSubject) &&
		certificate.CheckSignature(
			certificate.SignatureAlgorithm,
			certificate.RawTBSCertificate,
			certificate.Signature) == nil
}
