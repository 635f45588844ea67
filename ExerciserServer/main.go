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
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser"
)

func main() {

	flagSet := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flags := exerciser.RegisterFlags(flagSet)
	flagSet.Parse(os.Args[1:])

	args := flagSet.Args()
	if len(args) != 4 {
		fmt.Printf("%s <port> <key-file> <cert-chain-file> <ca-cert>|unauth\n\n", os.Args[0])
		os.Exit(1)
	}

	params := &exerciser.ServerParams{
		KeyFilename:   args[1],
		ChainFilename: args[2],
		TrustAnchors:  args[3],
	}

	config, err := flags.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration failed: %s\n", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("", args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen failed: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = exerciser.RunServer(ctx, listener, params, config, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %s\n", err)
		os.Exit(1)
	}
}
