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

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
)

func main() {

	var outputDirectory string
	flag.StringVar(&outputDirectory, "out", "test-ca", "output directory")

	var keyType string
	flag.StringVar(&keyType, "keyType", "rsa", "key type: rsa or ecdsa")

	var serverNames string
	flag.StringVar(&serverNames, "serverNames", "localhost,127.0.0.1", "comma separated server certificate names")

	flag.Parse()

	var credentialKeyType common.KeyType
	switch keyType {
	case "rsa":
		credentialKeyType = common.KeyTypeRSA
	case "ecdsa":
		credentialKeyType = common.KeyTypeECDSA
	default:
		fmt.Fprintf(os.Stderr, "unknown key type: %s\n", keyType)
		os.Exit(1)
	}

	files, err := common.WriteCredentialSet(
		outputDirectory, credentialKeyType, strings.Split(serverNames, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate failed: %s\n", err)
		os.Exit(1)
	}

	for _, filename := range []string{
		files.CACertificate,
		files.IntermediateCertificate,
		files.ServerKey,
		files.ServerCertificate,
		files.ServerChain,
		files.ClientKey,
		files.ClientCertificate,
		files.ClientChain,
	} {
		fmt.Println(filename)
	}
}
