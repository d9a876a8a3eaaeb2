// Package main is the entry point for corral-attach, an interactive
// terminal client that relays the operator's local terminal to an
// agent's tmux session over the same host.Interface the reverse proxy
// uses for its WebSocket relay (spec §4.6 "open"/"attach").
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
)

func main() {
	instance := flag.String("instance", "default", "provider instance name")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: corral-attach [-instance name] <agent>")
		os.Exit(1)
	}
	ref := flag.Arg(0)

	f, err := facade.New(os.Getenv("CORRAL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "corral-attach: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	handle, err := f.Open(ctx, ids.ProviderInstanceName(*instance), ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corral-attach: %v\n", err)
		os.Exit(1)
	}
	defer handle.Close()

	if err := runRelay(handle); err != nil {
		fmt.Fprintf(os.Stderr, "corral-attach: %v\n", err)
		os.Exit(1)
	}
}

// runRelay puts the local terminal into raw mode, relays stdin/stdout
// to handle, and forwards SIGWINCH as a remote pty resize, restoring
// terminal state on exit.
func runRelay(handle host.AttachHandle) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		_, err := io.Copy(handle, os.Stdin)
		return err
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw terminal mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	resize := make(chan os.Signal, 1)
	signal.Notify(resize, syscall.SIGWINCH)
	defer signal.Stop(resize)
	go func() {
		for range resize {
			if cols, rows, err := term.GetSize(fd); err == nil {
				_ = handle.Resize(cols, rows)
			}
		}
	}()
	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = handle.Resize(cols, rows)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, handle)
		done <- err
	}()
	go func() {
		_, _ = io.Copy(handle, os.Stdin)
	}()

	return <-done
}
