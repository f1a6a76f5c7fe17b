package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/wppcal/internal/api"
	"github.com/matheus3301/wppcal/internal/auth"
	"github.com/matheus3301/wppcal/internal/profile"
	"github.com/matheus3301/wppcal/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides default_profile)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if !probeDaemon(name) {
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(name, 15*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready, see %s\n", profile.LogPath(name))
			os.Exit(1)
		}
	}

	c, err := connect(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if err := tui.NewApp(c, name).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect reads the token the running daemon issued and dials its socket.
func connect(name string) (*api.Client, error) {
	token, err := auth.ReadToken(profile.TokenPath(name))
	if err != nil {
		return nil, err
	}
	return api.Dial(profile.SocketPath(name), token)
}

// probeDaemon reports whether a daemon answers an authenticated Stats call.
func probeDaemon(name string) bool {
	c, err := connect(name)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Stats(ctx)
	return err == nil
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	wppcald := filepath.Join(filepath.Dir(executable), "wppcald")
	if _, err := os.Stat(wppcald); err != nil {
		wppcald = "wppcald"
	}

	cmd := exec.Command(wppcald, "--profile", name)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls until the daemon answers or timeout passes. A token
// left by an earlier daemon fails the probe until the new one reissues it.
func waitForDaemon(name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(name) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
