// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform maps the running host to the filesystem paths,
// service accounts, and invocation prefixes the engine needs to drive
// tor and nginx on that host.
//
// Resolution is a fixed lookup table keyed by a platform tag, computed
// once at startup. Nothing in the engine branches on distribution names
// directly; components receive a resolved Profile and use its fields.
// An unrecognized host never fails resolution: it falls back to a
// direct-invocation, current-account profile and carries a warning for
// the caller to surface.
package platform

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Tag identifies a supported host platform.
type Tag string

const (
	// Debian covers Debian, Ubuntu, and derivatives. Tor runs as the
	// debian-tor account and its unit is tor@default.
	Debian Tag = "debian"

	// Arch covers Arch Linux and derivatives.
	Arch Tag = "arch"

	// RedHat covers Fedora, RHEL, and CentOS. Nginx has no
	// sites-available convention; fragments go into conf.d.
	RedHat Tag = "redhat"

	// Darwin is macOS with a Homebrew-installed tor and nginx. There
	// is no privilege-separated tor account; everything runs as the
	// invoking user.
	Darwin Tag = "darwin"

	// Termux is Android's Termux environment. Single-user, no sudo,
	// everything lives under $PREFIX and $HOME.
	Termux Tag = "termux"

	// Unknown is any host the detector could not classify. The
	// fallback profile invokes tor directly as the current account.
	Unknown Tag = "unknown"
)

// Profile is the resolved record for one platform: where the config
// files live, which account owns the hidden-service directory, and how
// the tor binary must be invoked.
type Profile struct {
	// Tag is the platform this profile was resolved for.
	Tag Tag

	// TorrcPath is the tor configuration file the engine edits.
	TorrcPath string

	// HiddenServiceBase is the directory under which the engine
	// creates its hidden-service directory.
	HiddenServiceBase string

	// NginxAvailableDir is where the engine writes its vhost fragment.
	NginxAvailableDir string

	// NginxEnabledDir is where the fragment is linked to activate it.
	// Equal to NginxAvailableDir on platforms without the
	// sites-available/sites-enabled split (the link step is skipped).
	NginxEnabledDir string

	// TorInvocation is the argv prefix for running the tor binary,
	// ending with the executable itself. Platforms with a
	// privilege-separated tor account invoke through sudo -u; others
	// invoke the binary directly.
	TorInvocation []string

	// NginxInvocation is the argv prefix for running nginx in the
	// foreground under the engine's supervision.
	NginxInvocation []string

	// TorUser and TorGroup are the account expected to own the
	// hidden-service directory. Both empty when the platform has no
	// privilege-separated tor account, in which case ownership is
	// left as the invoking account.
	TorUser  string
	TorGroup string

	// Warning is non-empty when this profile is the unknown-host
	// fallback. Resolution never fails; callers log the warning and
	// proceed.
	Warning string
}

// profiles is the fixed lookup table. Paths follow each platform's
// packaging conventions for tor and nginx.
var profiles = map[Tag]Profile{
	Debian: {
		Tag:               Debian,
		TorrcPath:         "/etc/tor/torrc",
		HiddenServiceBase: "/var/lib/tor",
		NginxAvailableDir: "/etc/nginx/sites-available",
		NginxEnabledDir:   "/etc/nginx/sites-enabled",
		TorInvocation:     []string{"sudo", "-u", "debian-tor", "tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
		TorUser:           "debian-tor",
		TorGroup:          "debian-tor",
	},
	Arch: {
		Tag:               Arch,
		TorrcPath:         "/etc/tor/torrc",
		HiddenServiceBase: "/var/lib/tor",
		NginxAvailableDir: "/etc/nginx/sites-available",
		NginxEnabledDir:   "/etc/nginx/sites-enabled",
		TorInvocation:     []string{"sudo", "-u", "tor", "tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
		TorUser:           "tor",
		TorGroup:          "tor",
	},
	RedHat: {
		Tag:               RedHat,
		TorrcPath:         "/etc/tor/torrc",
		HiddenServiceBase: "/var/lib/tor",
		NginxAvailableDir: "/etc/nginx/conf.d",
		NginxEnabledDir:   "/etc/nginx/conf.d",
		TorInvocation:     []string{"sudo", "-u", "toranon", "tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
		TorUser:           "toranon",
		TorGroup:          "toranon",
	},
	Darwin: {
		Tag:               Darwin,
		TorrcPath:         "/usr/local/etc/tor/torrc",
		HiddenServiceBase: "/usr/local/var/lib/tor",
		NginxAvailableDir: "/usr/local/etc/nginx/servers",
		NginxEnabledDir:   "/usr/local/etc/nginx/servers",
		TorInvocation:     []string{"tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
	},
}

// Resolve returns the profile for the given tag. Unknown (and any tag
// absent from the table) resolves to the current-account fallback with
// a warning, never an error.
func Resolve(tag Tag) Profile {
	if tag == Termux {
		return termuxProfile()
	}
	if profile, ok := profiles[tag]; ok {
		return profile
	}
	return fallbackProfile(tag)
}

// Detect classifies the running host and resolves its profile.
func Detect() Profile {
	return Resolve(detectTag(runtime.GOOS, os.Getenv, "/etc/os-release"))
}

// detectTag classifies a host from its OS, environment, and os-release
// file. Split from Detect so tests can feed synthetic inputs.
func detectTag(goos string, getenv func(string) string, osReleasePath string) Tag {
	if getenv("TERMUX_VERSION") != "" {
		return Termux
	}
	switch goos {
	case "darwin":
		return Darwin
	case "linux":
		return classifyOSRelease(osReleasePath)
	default:
		return Unknown
	}
}

// classifyOSRelease maps /etc/os-release ID and ID_LIKE values to a
// platform tag. Derivatives are folded into their parent family via
// ID_LIKE, so e.g. Linux Mint (ID_LIKE="ubuntu debian") is Debian.
func classifyOSRelease(path string) Tag {
	file, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		for _, key := range []string{"ID=", "ID_LIKE="} {
			if value, ok := strings.CutPrefix(line, key); ok {
				value = strings.Trim(value, `"`)
				ids = append(ids, strings.Fields(value)...)
			}
		}
	}

	for _, id := range ids {
		switch id {
		case "debian", "ubuntu":
			return Debian
		case "arch", "archlinux", "manjaro":
			return Arch
		case "fedora", "rhel", "centos":
			return RedHat
		}
	}
	return Unknown
}

// termuxProfile builds the Termux profile from the environment, since
// all of Termux's paths hang off $PREFIX and $HOME.
func termuxProfile() Profile {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = "/data/data/com.termux/files/usr"
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/data/data/com.termux/files/home"
	}
	return Profile{
		Tag:               Termux,
		TorrcPath:         filepath.Join(prefix, "etc/tor/torrc"),
		HiddenServiceBase: filepath.Join(home, ".tor"),
		NginxAvailableDir: filepath.Join(prefix, "etc/nginx/sites-available"),
		NginxEnabledDir:   filepath.Join(prefix, "etc/nginx/sites-enabled"),
		TorInvocation:     []string{"tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
	}
}

// fallbackProfile is the never-fail path for unclassified hosts: tor
// invoked directly, config under the invoking user's home, ownership
// left alone.
func fallbackProfile(tag Tag) Profile {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".onionhost")
	return Profile{
		Tag:               Unknown,
		TorrcPath:         filepath.Join(base, "torrc"),
		HiddenServiceBase: filepath.Join(base, "tor"),
		NginxAvailableDir: filepath.Join(base, "nginx"),
		NginxEnabledDir:   filepath.Join(base, "nginx"),
		TorInvocation:     []string{"tor"},
		NginxInvocation:   []string{"nginx", "-g", "daemon off;"},
		Warning: fmt.Sprintf(
			"unrecognized platform %q: using direct invocation as the current account; tor and nginx paths default to %s",
			tag, base),
	}
}

// Relocate returns a copy of the profile with every path rebased under
// dir. Tests and non-root development runs use this to point the whole
// engine at a scratch directory without touching system paths.
func (p Profile) Relocate(dir string) Profile {
	rebase := func(path string) string {
		return filepath.Join(dir, strings.TrimPrefix(path, string(filepath.Separator)))
	}
	relocated := p
	relocated.TorrcPath = rebase(p.TorrcPath)
	relocated.HiddenServiceBase = rebase(p.HiddenServiceBase)
	relocated.NginxAvailableDir = rebase(p.NginxAvailableDir)
	relocated.NginxEnabledDir = rebase(p.NginxEnabledDir)
	// Relocated profiles are for unprivileged runs: drop the sudo
	// prefix and account ownership along with the system paths.
	relocated.TorInvocation = []string{p.TorInvocation[len(p.TorInvocation)-1]}
	relocated.TorUser = ""
	relocated.TorGroup = ""
	return relocated
}
