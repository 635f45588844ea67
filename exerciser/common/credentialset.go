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
	"net"
	"os"
	"path/filepath"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
)

// CredentialSetFiles are the PEM files written by WriteCredentialSet.
// Chain files hold the leaf followed by the intermediate.
type CredentialSetFiles struct {
	CACertificate           string
	IntermediateCertificate string

	ServerKey         string
	ServerCertificate string
	ServerChain       string

	ClientKey         string
	ClientCertificate string
	ClientChain       string
}

// WriteCredentialSet generates a root CA, an intermediate CA, and server and
// client leaves issued by the intermediate, and writes them to dir. Each
// server name is added to the server leaf as a DNS name or, when it parses
// as one, an IP address.
func WriteCredentialSet(
	dir string, keyType KeyType, serverNames []string) (*CredentialSetFiles, error) {

	root, err := GenerateCertificateAuthority(
		&CertificateParams{CommonName: "exerciser root CA", KeyType: keyType}, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}

	intermediate, err := GenerateCertificateAuthority(
		&CertificateParams{CommonName: "exerciser intermediate CA", KeyType: keyType}, root)
	if err != nil {
		return nil, errors.Trace(err)
	}

	serverParams := &CertificateParams{KeyType: keyType}
	for _, name := range serverNames {
		if ip := net.ParseIP(name); ip != nil {
			serverParams.IPAddresses = append(serverParams.IPAddresses, ip)
		} else {
			serverParams.DNSNames = append(serverParams.DNSNames, name)
		}
	}
	if len(serverNames) > 0 {
		serverParams.CommonName = serverNames[0]
	}
	serverCertificate, serverKey, err := GenerateLeafCertificate(serverParams, intermediate)
	if err != nil {
		return nil, errors.Trace(err)
	}

	clientCertificate, clientKey, err := GenerateLeafCertificate(
		&CertificateParams{CommonName: "exerciser client", KeyType: keyType, ClientAuth: true},
		intermediate)
	if err != nil {
		return nil, errors.Trace(err)
	}

	files := &CredentialSetFiles{
		CACertificate:           filepath.Join(dir, "ca.cert"),
		IntermediateCertificate: filepath.Join(dir, "inter.cert"),
		ServerKey:               filepath.Join(dir, "end.key"),
		ServerCertificate:       filepath.Join(dir, "end.cert"),
		ServerChain:             filepath.Join(dir, "end.chain"),
		ClientKey:               filepath.Join(dir, "client.key"),
		ClientCertificate:       filepath.Join(dir, "client.cert"),
		ClientChain:             filepath.Join(dir, "client.chain"),
	}

	contents := []struct {
		filename string
		data     string
	}{
		{files.CACertificate, root.CertificatePEM},
		{files.IntermediateCertificate, intermediate.CertificatePEM},
		{files.ServerKey, serverKey},
		{files.ServerCertificate, serverCertificate},
		{files.ServerChain, serverCertificate + intermediate.CertificatePEM},
		{files.ClientKey, clientKey},
		{files.ClientCertificate, clientCertificate},
		{files.ClientChain, clientCertificate + intermediate.CertificatePEM},
	}

	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, errors.Trace(err)
	}

	for _, content := range contents {
		err := os.WriteFile(content.filename, []byte(content.data), 0600)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	return files, nil
}
