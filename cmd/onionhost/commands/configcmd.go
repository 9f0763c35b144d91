// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/onionhost-foundation/onionhost/cmd/onionhost/cli"
	"github.com/onionhost-foundation/onionhost/lib/config"
	"github.com/onionhost-foundation/onionhost/lib/netcheck"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "show or change the service configuration",
		Subcommands: []*cli.Command{
			configShowCommand(),
			configSetCommand(),
		},
	}
}

func configShowCommand() *cli.Command {
	opts := &globalOptions{}
	return &cli.Command{
		Name:    "show",
		Summary: "print the active configuration",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			opts.register(flags)
			return flags
		},
		Run: func(args []string) error {
			path, err := config.ResolvePath(opts.configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

// settableKeys maps `config set` keys to their mutation. Each setter
// validates its own value; cross-field validation happens at start.
var settableKeys = map[string]func(cfg *config.Config, value string) error{
	"method": func(cfg *config.Config, value string) error {
		method := config.Method(value)
		if method != config.FileServing && method != config.ForwardedPort {
			return fmt.Errorf("method must be %q or %q", config.FileServing, config.ForwardedPort)
		}
		cfg.Method = method
		return nil
	},
	"site-dir": func(cfg *config.Config, value string) error {
		cfg.SiteDir = value
		return nil
	},
	"forward-port": func(cfg *config.Config, value string) error {
		port, err := parsePort("forward-port", value)
		if err != nil {
			return err
		}
		cfg.ForwardPort = port
		return nil
	},
	"listen-port": func(cfg *config.Config, value string) error {
		port, err := parsePort("listen-port", value)
		if err != nil {
			return err
		}
		cfg.ListenPort = port
		return nil
	},
	"torrc-path": func(cfg *config.Config, value string) error {
		cfg.TorrcPath = value
		return nil
	},
	"hidden-service-dir": func(cfg *config.Config, value string) error {
		cfg.HiddenServiceDir = value
		return nil
	},
}

// parsePort parses and policy-checks a port value. Rejected ports are
// refused at set time; warnings are printed but accepted.
func parsePort(key, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	result := netcheck.ValidatePort(port)
	switch result.Verdict {
	case netcheck.Rejected:
		return 0, fmt.Errorf("%s: %s", key, result.Reason)
	case netcheck.Warning:
		fmt.Fprintf(os.Stderr, "warning: %s\n", result.Reason)
	}
	return port, nil
}

func configSetCommand() *cli.Command {
	opts := &globalOptions{}
	command := &cli.Command{
		Name:    "set",
		Summary: "set a configuration value",
		Examples: []cli.Example{
			{Description: "serve a directory", Command: "onionhost config set method file-serving"},
			{Command: "onionhost config set site-dir /srv/mysite"},
			{Description: "forward to a local service instead", Command: "onionhost config set forward-port 3000"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("set", pflag.ContinueOnError)
			opts.register(flags)
			return flags
		},
	}
	command.Run = func(args []string) error {
		if len(args) != 2 {
			command.PrintHelp(os.Stderr)
			return fmt.Errorf("usage: onionhost config set <key> <value>")
		}
		key, value := args[0], args[1]

		apply, ok := settableKeys[key]
		if !ok {
			return fmt.Errorf("unknown key %q; settable keys: method, site-dir, forward-port, listen-port, torrc-path, hidden-service-dir", key)
		}

		path, err := config.ResolvePath(opts.configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := apply(cfg, value); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	}
	return command
}
