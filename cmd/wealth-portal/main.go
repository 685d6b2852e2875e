package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prajiwaji-cpu/wealth-management-portal/internal/browser"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/config"
	apperrors "github.com/prajiwaji-cpu/wealth-management-portal/internal/errors"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/logging"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/portal"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: wealth-portal <command> [arguments]

Commands:
  login       sign in through the browser (--relogin to switch accounts)
  logout      remove the stored credential
  status      show the stored credential and who the portal says you are
  tasks       list verification tasks across the portal's series
  open        edit one task interactively: open <taskId>
  submit      submit a task: submit <taskId> [--field name=value ...]
  upload      upload files for a task: upload <taskId> <file> [file ...]
  drafts      list local drafts, or remove one: drafts rm <taskId>
  inspect     dump a task's fields: inspect <taskId> [--format text|json|yaml]
`)
}

// app carries the wired-up dependencies every command works with.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *state.State
	browser *browser.Browser
	auth    *portal.AuthSession
	client  *portal.Client
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()

		return errors.New("missing command")
	}

	command, rest := args[0], args[1:]

	if command == "help" || command == "-h" || command == "--help" {
		usage()

		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Debug("wealth-portal starting",
		slog.String("version", Version),
		slog.String("command", command),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := state.Load(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("opening local state: %w", err)
	}
	defer store.Close()

	b := browser.New(cfg.CallbackAddr, logger)

	auth := portal.NewAuthSession(cfg, store, state.NewMemoryStore(), b, nil, logger)
	client := portal.NewClient(cfg, auth, nil, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		browser: b,
		auth:    auth,
		client:  client,
	}

	err = a.dispatch(ctx, command, rest)
	if errors.Is(err, portal.ErrAuthorizationRequired) {
		return errors.New("sign-in required: run wealth-portal login")
	}

	return err
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout()
	case "status":
		return a.status(ctx)
	case "tasks":
		return a.tasks(ctx)
	case "open":
		return a.openTask(ctx, args)
	case "submit":
		return a.submit(ctx, args)
	case "upload":
		return a.upload(ctx, args)
	case "drafts":
		return a.drafts(args)
	case "inspect":
		return a.inspect(ctx, args)
	default:
		usage()

		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	relogin := fs.Bool("relogin", false, "ask the portal to confirm the account even when a session exists")

	if err := fs.Parse(args); err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)

	if err := a.browser.Start(listenCtx); err != nil {
		cancel()

		return err
	}

	// cancel releases the listener; Stop waits for it to wind down.
	defer a.browser.Stop()
	defer cancel()

	authURL, err := a.auth.AuthorizationURL(*relogin)
	if err != nil {
		return err
	}

	if err := a.browser.Navigate(authURL); err != nil {
		return err
	}

	fmt.Println("Waiting for the sign-in to finish in the browser...")

	if err := a.browser.WaitCallback(listenCtx); err != nil {
		return err
	}

	exchanged, err := a.auth.CompleteExchange(ctx)
	if err != nil {
		return fmt.Errorf("completing sign-in: %w", err)
	}

	if !exchanged {
		return errors.New("the callback carried no authorization code; run wealth-portal login again")
	}

	identity, err := a.client.Self(ctx)
	if err != nil {
		return err
	}

	if identity == nil {
		return errors.New("the portal rejected the new credential")
	}

	fmt.Printf("Signed in as %s (%s)\n", identity.DisplayName, identity.Email)

	return nil
}

func (a *app) logout() error {
	if err := a.auth.ClearToken(); err != nil {
		return err
	}

	fmt.Println("Signed out. Stored credential removed.")

	return nil
}

func (a *app) status(ctx context.Context) error {
	tok, err := a.auth.LoadToken()
	if errors.Is(err, apperrors.ErrNoCredential) {
		fmt.Println("Not signed in. Run: wealth-portal login")

		return nil
	}

	if err != nil {
		return err
	}

	claims := portal.InspectToken(tok.AccessToken)

	switch {
	case claims.Opaque:
		fmt.Println("Credential stored (opaque access token).")
	default:
		fmt.Printf("Credential stored for subject %s", claims.Subject)

		if claims.Issuer != "" {
			fmt.Printf(", issued by %s", claims.Issuer)
		}

		fmt.Println()

		if !claims.ExpiresAt.IsZero() {
			if claims.Expired(time.Now()) {
				fmt.Printf("Token expired %s\n", claims.ExpiresAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Token expires %s\n", claims.ExpiresAt.Format(time.RFC3339))
			}
		}
	}

	identity, err := a.client.Self(ctx)
	if err != nil {
		return err
	}

	if identity == nil {
		fmt.Println("The portal rejected the credential. Run: wealth-portal login")

		return nil
	}

	fmt.Printf("Portal confirms %s (%s)\n", identity.DisplayName, identity.Email)

	return nil
}
