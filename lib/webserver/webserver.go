// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package webserver generates the local nginx configuration for the
// file-serving hosting method: a single engine-owned vhost fragment
// bound to loopback, serving the site directory.
//
// Access logging is disabled in the generated vhost. The tor network
// already anonymizes the client; a local access log would only record
// this server's own view of request timing, which is information the
// operator of a hidden service specifically does not want on disk.
//
// The fragment is engine-owned: re-running the writer replaces it
// wholesale rather than appending, and nothing else in the server's
// configuration is modified beyond linking the fragment into the
// active set.
package webserver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/onionhost-foundation/onionhost/lib/atomicfile"
)

// FragmentName is the engine-owned nginx config fragment file name.
const FragmentName = "onionhost.conf"

// indexFiles are the files accepted as a site's entry point, checked
// in order.
var indexFiles = []string{"index.html", "index.htm", "index.php"}

// vhostTemplate is the loopback vhost. server_tokens and the response
// headers keep the server from volunteering information about itself
// to onion visitors.
var vhostTemplate = template.Must(template.New("vhost").Parse(`server {
    listen 127.0.0.1:{{.ListenPort}};
    server_name localhost;

    server_tokens off;
    add_header X-Frame-Options "SAMEORIGIN" always;
    add_header X-Content-Type-Options "nosniff" always;
    add_header Referrer-Policy "no-referrer" always;

    root {{.SiteDir}};
    index index.html index.htm index.php;

    location / {
        try_files $uri $uri/ =404;
    }

    access_log off;
    error_log {{.ErrorLog}};
}
`))

// Fragment holds the parameters of the generated vhost.
type Fragment struct {
	// ListenPort is the loopback port the vhost binds.
	ListenPort int

	// SiteDir is the directory served as the vhost root.
	SiteDir string

	// ErrorLog is where nginx writes its error log for this vhost.
	ErrorLog string
}

// CheckSiteDirectory validates that dir exists, is a directory, and
// contains an index file. This is the orchestrator's pre-start check
// for the file-serving method.
func CheckSiteDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("site directory %s does not exist", dir)
		}
		return fmt.Errorf("checking site directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("site path %s is not a directory", dir)
	}
	for _, name := range indexFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("site directory %s has no index file (expected one of index.html, index.htm, index.php)", dir)
}

// WriteFragment renders the vhost and installs it: the fragment is
// written atomically into availableDir and linked into enabledDir when
// the platform splits the two. Re-running overwrites the previous
// fragment; duplicates can never accumulate because the file name is
// fixed.
func WriteFragment(availableDir, enabledDir string, fragment Fragment) error {
	var rendered bytes.Buffer
	if err := vhostTemplate.Execute(&rendered, fragment); err != nil {
		return fmt.Errorf("rendering vhost fragment: %w", err)
	}

	if err := os.MkdirAll(availableDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", availableDir, err)
	}
	fragmentPath := filepath.Join(availableDir, FragmentName)
	if err := atomicfile.WriteFile(fragmentPath, rendered.Bytes(), 0o644); err != nil {
		return err
	}

	if enabledDir == availableDir {
		// Platforms like RedHat load conf.d directly; nothing to link.
		return nil
	}

	if err := os.MkdirAll(enabledDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", enabledDir, err)
	}
	linkPath := filepath.Join(enabledDir, FragmentName)
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale link %s: %w", linkPath, err)
	}
	if err := os.Symlink(fragmentPath, linkPath); err != nil {
		return fmt.Errorf("linking %s into %s: %w", fragmentPath, enabledDir, err)
	}
	return nil
}
