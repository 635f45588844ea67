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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// KeyType selects the public key algorithm of a generated certificate.
type KeyType int

const (
	KeyTypeECDSA KeyType = iota
	KeyTypeRSA
)

// CertificateAuthority is a generated CA certificate and its signing key.
// CertificatePEM and PrivateKeyPEM hold the PEM encodings of the same
// material.
type CertificateAuthority struct {
	Certificate    *x509.Certificate
	PrivateKey     crypto.Signer
	CertificatePEM string
	PrivateKeyPEM  string
}

// CertificateParams specifies a certificate to generate. Zero NotBefore and
// NotAfter default to a validity period starting one hour ago and lasting
// one year.
type CertificateParams struct {
	CommonName  string
	DNSNames    []string
	IPAddresses []net.IP
	KeyType     KeyType

	// ClientAuth selects the client authentication extended key usage
	// instead of server authentication.
	ClientAuth bool

	NotBefore time.Time
	NotAfter  time.Time
}

// GenerateCertificateAuthority creates a CA certificate. When issuer is nil,
// the CA is a self-signed root; otherwise it's an intermediate signed by
// issuer.
func GenerateCertificateAuthority(
	params *CertificateParams, issuer *CertificateAuthority) (*CertificateAuthority, error) {

	key, err := generateKey(params.KeyType)
	if err != nil {
		return nil, errors.Trace(err)
	}

	template, err := makeTemplate(params, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	template.IsCA = true
	template.BasicConstraintsValid = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	template.ExtKeyUsage = nil

	parent := template
	signer := key
	if issuer != nil {
		parent = issuer.Certificate
		signer = issuer.PrivateKey
		template.MaxPathLen = 0
		template.MaxPathLenZero = true
	} else {
		template.MaxPathLen = 1
	}

	certificate, certificatePEM, err := createCertificate(template, parent, key.Public(), signer)
	if err != nil {
		return nil, errors.Trace(err)
	}

	privateKeyPEM, err := encodePrivateKey(key)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &CertificateAuthority{
		Certificate:    certificate,
		PrivateKey:     key,
		CertificatePEM: certificatePEM,
		PrivateKeyPEM:  privateKeyPEM,
	}, nil
}

// GenerateLeafCertificate creates an end entity certificate signed by
// issuer, returning the PEM encoded certificate and private key. When issuer
// is nil, the certificate is self-signed.
func GenerateLeafCertificate(
	params *CertificateParams, issuer *CertificateAuthority) (string, string, error) {

	key, err := generateKey(params.KeyType)
	if err != nil {
		return "", "", errors.Trace(err)
	}

	template, err := makeTemplate(params, key)
	if err != nil {
		return "", "", errors.Trace(err)
	}
	template.BasicConstraintsValid = true
	template.KeyUsage = x509.KeyUsageDigitalSignature
	if _, ok := key.(*rsa.PrivateKey); ok {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}
	if params.ClientAuth {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}

	parent := template
	var signer crypto.Signer = key
	if issuer != nil {
		parent = issuer.Certificate
		signer = issuer.PrivateKey
	}

	_, certificatePEM, err := createCertificate(template, parent, key.Public(), signer)
	if err != nil {
		return "", "", errors.Trace(err)
	}

	privateKeyPEM, err := encodePrivateKey(key)
	if err != nil {
		return "", "", errors.Trace(err)
	}

	return certificatePEM, privateKeyPEM, nil
}

func generateKey(keyType KeyType) (crypto.Signer, error) {
	switch keyType {
	case KeyTypeRSA:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return key, nil
	case KeyTypeECDSA:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return key, nil
	}
	return nil, errors.Tracef("unknown key type: %d", keyType)
}

func makeTemplate(params *CertificateParams, key crypto.Signer) (*x509.Certificate, error) {

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Trace(err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, errors.Trace(err)
	}
	// as per RFC3280 sec. 4.2.1.2
	subjectKeyID := sha1.Sum(publicKeyBytes)

	notBefore := params.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour).UTC()
	}
	notAfter := params.NotAfter
	if notAfter.IsZero() {
		notAfter = notBefore.AddDate(1, 0, 0)
	}

	return &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: params.CommonName},
		DNSNames:     params.DNSNames,
		IPAddresses:  params.IPAddresses,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		SubjectKeyId: subjectKeyID[:],
	}, nil
}

func createCertificate(
	template, parent *x509.Certificate,
	publicKey crypto.PublicKey,
	signer crypto.Signer) (*x509.Certificate, string, error) {

	derCert, err := x509.CreateCertificate(rand.Reader, template, parent, publicKey, signer)
	if err != nil {
		return nil, "", errors.Trace(err)
	}

	certificate, err := x509.ParseCertificate(derCert)
	if err != nil {
		return nil, "", errors.Trace(err)
	}

	certificatePEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: derCert,
		},
	)

	return certificate, string(certificatePEM), nil
}

func encodePrivateKey(key crypto.Signer) (string, error) {
	derKey, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(pem.EncodeToMemory(
		&pem.Block{
			Type:  "PRIVATE KEY",
			Bytes: derKey,
		},
	)), nil
}
