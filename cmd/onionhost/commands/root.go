// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the onionhost command tree.
package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/onionhost-foundation/onionhost/cmd/onionhost/cli"
	"github.com/onionhost-foundation/onionhost/lib/version"
)

// globalOptions are the flags shared by every leaf command.
type globalOptions struct {
	configPath string
	logJSON    bool
	verbose    bool
}

// register adds the shared flags to a command's flag set.
func (g *globalOptions) register(flags *pflag.FlagSet) {
	flags.StringVar(&g.configPath, "config", "", "path to the service configuration file")
	flags.BoolVar(&g.logJSON, "log-json", false, "force JSON log output")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
}

// Root builds the full command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "onionhost",
		Summary: "publish a local site as a Tor hidden service",
		Description: "onionhost supervises a Tor relay and a local nginx instance to\n" +
			"publish a directory or an already-running local service as a\n" +
			"Tor hidden service.",
		Subcommands: []*cli.Command{
			startCommand(),
			stopCommand(),
			restartCommand(),
			statusCommand(),
			addressCommand(),
			historyCommand(),
			configCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
