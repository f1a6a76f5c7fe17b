package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/api"
	"github.com/matheus3301/wppcal/internal/auth"
	"github.com/matheus3301/wppcal/internal/profile"
)

// Exit codes: 0 ok, 2 partial failure or run already in progress, 1 config
// or auth problem.
const (
	exitOK      = 0
	exitConfig  = 1
	exitPartial = 2
)

var profileFlag string

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func main() {
	root := &cobra.Command{
		Use:           "wppcalctl",
		Short:         "Operate the wppcal daemon",
		Long:          "wppcalctl talks to wppcald over the profile's control socket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides default_profile)")

	root.AddCommand(
		syncChatCmd(),
		syncAllCmd(),
		weeklyRunCmd(),
		markCmd(),
		chatsCmd(),
		refreshChatsCmd(),
		deleteEventCmd(),
		forgetTombstonesCmd(),
		statsCmd(),
		logsCmd(),
		watchCmd(),
		calendarAuthCmd(),
		initCmd(),
		useProfileCmd(),
	)

	os.Exit(run(root))
}

func run(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return codeFor(err)
}

// codeFor maps an RPC failure onto an exit code.
func codeFor(err error) int {
	switch grpcstatus.Code(err) {
	case codes.Aborted, codes.Canceled, codes.Unavailable, codes.Internal, codes.DeadlineExceeded:
		return exitPartial
	default:
		return exitConfig
	}
}

func profileName() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", &exitError{code: exitConfig, err: err}
	}
	return name, nil
}

// dial connects to the profile's daemon with the token it issued at startup.
func dial() (*api.Client, error) {
	name, err := profileName()
	if err != nil {
		return nil, err
	}
	token, err := auth.ReadToken(profile.TokenPath(name))
	if err != nil {
		return nil, &exitError{code: exitConfig, err: fmt.Errorf("is wppcald running for profile %q? %w", name, err)}
	}
	c, err := api.Dial(profile.SocketPath(name), token)
	if err != nil {
		return nil, &exitError{code: exitConfig, err: err}
	}
	return c, nil
}

// signalContext is cancelled on Ctrl-C.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runCanceler is the part of the client interruptible needs.
type runCanceler interface {
	Cancel(ctx context.Context) (*api.CancelResponse, error)
}

// interruptible runs call on a context Ctrl-C does not cancel. The first
// interrupt asks the daemon to stop the run, which then answers call with
// its partial report. A second interrupt, or a failed cancel, gives up on
// the answer.
func interruptible(c runCanceler, sigs <-chan os.Signal, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "stopping after the chats in flight, interrupt again to quit")
		cctx, ccancel := shortContext()
		_, err := c.Cancel(cctx)
		ccancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
			cancel()
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return call(ctx)
}

// notifyInterrupt delivers Ctrl-C and SIGTERM until stop is called.
func notifyInterrupt() (sigs <-chan os.Signal, stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

func shortContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withExit prints v and turns a non-zero code into an exitError.
func withExit(v any, code int) error {
	if err := printJSON(v); err != nil {
		return err
	}
	if code != exitOK {
		return &exitError{code: code}
	}
	return nil
}
