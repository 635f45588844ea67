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
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// testPKI is a trusted root, an intermediate, leaves issued by the
// intermediate, and untrusted material, written to a temporary directory.
type testPKI struct {
	dir string

	root         *common.CertificateAuthority
	intermediate *common.CertificateAuthority

	rootFilename        string
	serverKeyFilename   string
	serverChainFilename string

	server     *Credential
	client     *Credential
	untrusted  *Credential
	selfSigned *Credential
}

func newTestPKI(t *testing.T) *testPKI {

	pki := &testPKI{dir: t.TempDir()}

	var err error
	pki.root, err = common.GenerateCertificateAuthority(
		&common.CertificateParams{CommonName: "test root"}, nil)
	require.NoError(t, err)

	pki.intermediate, err = common.GenerateCertificateAuthority(
		&common.CertificateParams{CommonName: "test intermediate"}, pki.root)
	require.NoError(t, err)

	pki.rootFilename = pki.writeFile(t, "root.pem", pki.root.CertificatePEM)

	certificatePEM, keyPEM, err := common.GenerateLeafCertificate(
		&common.CertificateParams{
			CommonName:  "localhost",
			DNSNames:    []string{"localhost"},
			IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
		},
		pki.intermediate)
	require.NoError(t, err)
	pki.serverKeyFilename = pki.writeFile(t, "server-key.pem", keyPEM)
	pki.serverChainFilename = pki.writeFile(
		t, "server-chain.pem", certificatePEM+pki.intermediate.CertificatePEM)
	pki.server, err = LoadCredential(pki.serverKeyFilename, pki.serverChainFilename)
	require.NoError(t, err)

	certificatePEM, keyPEM, err = common.GenerateLeafCertificate(
		&common.CertificateParams{CommonName: "client", ClientAuth: true},
		pki.intermediate)
	require.NoError(t, err)
	pki.client = pki.credential(t, "client", keyPEM, certificatePEM+pki.intermediate.CertificatePEM)

	untrustedRoot, err := common.GenerateCertificateAuthority(
		&common.CertificateParams{CommonName: "untrusted root"}, nil)
	require.NoError(t, err)
	certificatePEM, keyPEM, err = common.GenerateLeafCertificate(
		&common.CertificateParams{CommonName: "localhost", DNSNames: []string{"localhost"}},
		untrustedRoot)
	require.NoError(t, err)
	pki.untrusted = pki.credential(t, "untrusted", keyPEM, certificatePEM)

	certificatePEM, keyPEM, err = common.GenerateLeafCertificate(
		&common.CertificateParams{CommonName: "localhost", DNSNames: []string{"localhost"}},
		nil)
	require.NoError(t, err)
	pki.selfSigned = pki.credential(t, "self-signed", keyPEM, certificatePEM)

	return pki
}

func (pki *testPKI) writeFile(t *testing.T, name, contents string) string {
	filename := filepath.Join(pki.dir, name)
	require.NoError(t, os.WriteFile(filename, []byte(contents), 0600))
	return filename
}

func (pki *testPKI) credential(t *testing.T, name, keyPEM, chainPEM string) *Credential {
	credential, err := LoadCredential(
		pki.writeFile(t, name+"-key.pem", keyPEM),
		pki.writeFile(t, name+"-chain.pem", chainPEM))
	require.NoError(t, err)
	return credential
}

func parseCertificatePEM(t *testing.T, certificatePEM string) *x509.Certificate {
	block, _ := pem.Decode([]byte(certificatePEM))
	require.NotNil(t, block)
	certificate, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return certificate
}

// sessionPair is a connected client and server session.
type sessionPair struct {
	client    *Session
	server    *Session
	clientErr error
	serverErr error
}

// handshake connects a client and server session over loopback TCP and
// runs both handshakes to completion or failure.
func handshake(
	t *testing.T,
	clientConfig, serverConfig *Configuration,
	peerName string,
	wrapClientConn func(net.Conn) net.Conn) *sessionPair {

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	pair := &sessionPair{}

	pair.server, err = NewServerSession(serverConfig)
	require.NoError(t, err)
	pair.client, err = NewClientSession(clientConfig)
	require.NoError(t, err)
	if peerName != "" {
		require.NoError(t, pair.client.SetExpectedPeerName(peerName))
	}

	t.Cleanup(func() {
		pair.client.Close()
		pair.server.Close()
	})

	var group errgroup.Group
	group.Go(func() error {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		conn.SetDeadline(time.Now().Add(10 * time.Second))
		err = pair.server.BindTransport(conn)
		if err != nil {
			return err
		}
		pair.serverErr = pair.server.Accept()
		return nil
	})

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if wrapClientConn != nil {
		conn = wrapClientConn(conn)
	}
	require.NoError(t, pair.client.BindTransport(conn))
	pair.clientErr = pair.client.Connect()

	require.NoError(t, group.Wait())

	return pair
}

// shortWriteConn accepts at most maxWrite bytes per Write call.
type shortWriteConn struct {
	net.Conn
	maxWrite int
}

func (conn *shortWriteConn) Write(b []byte) (int, error) {
	if len(b) > conn.maxWrite {
		b = b[:conn.maxWrite]
	}
	return conn.Conn.Write(b)
}

// closeCountingConn counts Close calls.
type closeCountingConn struct {
	net.Conn
	closes int32
}

func (conn *closeCountingConn) Close() error {
	atomic.AddInt32(&conn.closes, 1)
	return conn.Conn.Close()
}

func (conn *closeCountingConn) closeCount() int {
	return int(atomic.LoadInt32(&conn.closes))
}
