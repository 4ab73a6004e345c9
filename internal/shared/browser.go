package shared

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// launchers maps GOOS to the command that hands a URL to the desktop's default browser.
var launchers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"openbsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// OpenBrowser starts the user's browser on an authorization URL without waiting for it.
// $BROWSER takes precedence over the platform launcher.
func OpenBrowser(target string) error {
	cmd, err := browserCommand(runtime.GOOS, os.Getenv("BROWSER"), target)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// browserCommand builds the launch command. Only absolute http(s) URLs are accepted
// so the launcher is never handed a local path or flag.
func browserCommand(goos, override, target string) (*exec.Cmd, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: not a browsable URL: %q", ErrInvalidArgument, target)
	}

	if fields := strings.Fields(override); len(fields) > 0 {
		return exec.Command(fields[0], append(fields[1:], target)...), nil
	}

	argv, ok := launchers[goos]
	if !ok {
		return nil, fmt.Errorf("no browser launcher for %s", goos)
	}
	return exec.Command(argv[0], append(argv[1:], target)...), nil
}
