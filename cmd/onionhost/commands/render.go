// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/onionhost-foundation/onionhost/lib/service"
)

var (
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	downStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	addressStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

const barWidth = 30

// progressRenderer draws bootstrap progress: an in-place bar on a
// terminal, one plain line per update when piped.
type progressRenderer struct {
	tty  bool
	drew bool
}

func newProgressRenderer() *progressRenderer {
	return &progressRenderer{tty: term.IsTerminal(int(os.Stdout.Fd()))}
}

// Update renders one bootstrap progress event.
func (r *progressRenderer) Update(percent int, summary string) {
	if !r.tty {
		fmt.Printf("bootstrap %3d%% %s\n", percent, summary)
		return
	}

	filled := percent * barWidth / 100
	bar := barStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", barWidth-filled))
	fmt.Printf("\r\033[K%s %3d%% %s", bar, percent, dimStyle.Render(summary))
	r.drew = true
}

// Finish terminates the in-place bar line.
func (r *progressRenderer) Finish() {
	if r.tty && r.drew {
		fmt.Println()
	}
}

// printStatus renders the status report.
func printStatus(status *service.Status) {
	state := func(running bool, pid int) string {
		if running {
			return liveStyle.Render("running") + dimStyle.Render(fmt.Sprintf(" (pid %d)", pid))
		}
		return downStyle.Render("stopped")
	}
	installed := func(present bool) string {
		if present {
			return "installed"
		}
		return warnStyle.Render("missing")
	}

	fmt.Printf("method:     %s (port %d)\n", status.Method, status.TargetPort)
	fmt.Printf("relay:      %s  tor %s\n", state(status.RelayRunning, status.RelayPID), installed(status.TorInstalled))
	fmt.Printf("webserver:  %s  nginx %s\n", state(status.WebserverRunning, status.WebserverPID), installed(status.NginxInstalled))
	if status.TorrcManaged {
		fmt.Printf("torrc:      managed stanza, port %d, %s\n",
			status.Stanza.TargetPort, dimStyle.Render(status.Stanza.HiddenServiceDir))
	}
	if status.OnionAddress != "" {
		fmt.Printf("address:    %s\n", addressStyle.Render(status.OnionAddress))
	}
	if status.Bootstrap.Percent > 0 && !status.Bootstrap.Terminal {
		fmt.Printf("bootstrap:  %d%% (%s)\n", status.Bootstrap.Percent, status.Bootstrap.Phase)
	}
	if status.PlatformWarning != "" {
		fmt.Printf("%s\n", warnStyle.Render("warning: "+status.PlatformWarning))
	}
}
