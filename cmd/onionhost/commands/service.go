// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/onionhost-foundation/onionhost/cmd/onionhost/cli"
	"github.com/onionhost-foundation/onionhost/lib/bootstrap"
	"github.com/onionhost-foundation/onionhost/lib/service"
)

// commandContext is canceled on SIGINT so an interrupted bootstrap
// watch unwinds cleanly without killing the relay.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func isBootstrapTimeout(err error) bool {
	var timeout *bootstrap.TimeoutError
	return errors.As(err, &timeout)
}

func startCommand() *cli.Command {
	opts := &globalOptions{}
	var keepWaiting bool
	return &cli.Command{
		Name:    "start",
		Summary: "start the hidden service and wait for bootstrap",
		Examples: []cli.Example{
			{Description: "publish the configured site", Command: "onionhost start"},
			{Description: "keep waiting past the bootstrap timeout", Command: "onionhost start --keep-waiting"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
			opts.register(flags)
			flags.BoolVar(&keepWaiting, "keep-waiting", false,
				"on bootstrap timeout, keep watching instead of returning")
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := commandContext()
			defer cancel()

			renderer := newProgressRenderer()
			result, err := engine.Start(ctx, renderer.Update)
			for keepWaiting && isBootstrapTimeout(err) {
				result, err = engine.Watch(ctx, renderer.Update)
			}
			renderer.Finish()
			if err != nil {
				if isBootstrapTimeout(err) {
					fmt.Fprintln(os.Stderr,
						"the relay is still bootstrapping and was left running; `onionhost status` tracks it, `onionhost stop` gives up")
				}
				return err
			}

			if result.AlreadyRunning {
				fmt.Println("service already running")
			}
			fmt.Printf("hidden service live at %s\n", addressStyle.Render(result.OnionAddress))
			return nil
		},
	}
}

func stopCommand() *cli.Command {
	opts := &globalOptions{}
	var scan bool
	return &cli.Command{
		Name:    "stop",
		Summary: "stop the hidden service",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			opts.register(flags)
			flags.BoolVar(&scan, "scan", false,
				"fall back to scanning the process table for a relay whose record is missing")
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := commandContext()
			defer cancel()

			if err := engine.Stop(ctx, service.StopOptions{AllowScan: scan}); err != nil {
				return err
			}
			fmt.Println("hidden service stopped")
			return nil
		},
	}
}

func restartCommand() *cli.Command {
	opts := &globalOptions{}
	return &cli.Command{
		Name:    "restart",
		Summary: "stop and start the hidden service",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("restart", pflag.ContinueOnError)
			opts.register(flags)
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := commandContext()
			defer cancel()

			renderer := newProgressRenderer()
			result, err := engine.Restart(ctx, renderer.Update)
			renderer.Finish()
			if err != nil {
				return err
			}
			fmt.Printf("hidden service live at %s\n", addressStyle.Render(result.OnionAddress))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	opts := &globalOptions{}
	return &cli.Command{
		Name:    "status",
		Summary: "show service, process, and dependency status",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			opts.register(flags)
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			status, err := engine.Status()
			if err != nil {
				return err
			}
			printStatus(status)
			return nil
		},
	}
}

func addressCommand() *cli.Command {
	opts := &globalOptions{}
	return &cli.Command{
		Name:    "address",
		Summary: "print the service's .onion address",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("address", pflag.ContinueOnError)
			opts.register(flags)
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			address, err := engine.Address()
			if err != nil {
				return err
			}
			fmt.Println(address)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	opts := &globalOptions{}
	var limit int
	return &cli.Command{
		Name:    "history",
		Summary: "show recent lifecycle events",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
			opts.register(flags)
			flags.IntVarP(&limit, "limit", "n", 20, "maximum events to show")
			return flags
		},
		Run: func(args []string) error {
			engine, _, err := newEngine(opts)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := commandContext()
			defer cancel()

			events, err := engine.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no events recorded")
				return nil
			}
			for _, event := range events {
				line := fmt.Sprintf("%s  %-10s %s",
					event.Time.Local().Format("2006-01-02 15:04:05"), event.Kind, event.Method)
				if event.OnionAddress != "" {
					line += "  " + event.OnionAddress
				}
				if event.Detail != "" {
					line += "  " + dimStyle.Render(event.Detail)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
