package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/noah-isme/mobile-auth-api/internal/client/api"
	"github.com/noah-isme/mobile-auth-api/internal/client/credstore"
	"github.com/noah-isme/mobile-auth-api/internal/client/facade"
	"github.com/noah-isme/mobile-auth-api/internal/client/guard"
	"github.com/noah-isme/mobile-auth-api/pkg/config"
	"github.com/noah-isme/mobile-auth-api/pkg/logger"
)

const usage = `usage: auth-client <command> [flags]

commands:
  signup  -email EMAIL [-name NAME]   register and log in
  login   -email EMAIL                log in
  logout                              revoke and forget the session
  status                              show the stored session state
  me                                  fetch the current identity
`

// readPassword is replaced in tests.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(raw), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth, err := newFacade(cfg.Client, logr)
	if err != nil {
		logr.Fatal("failed to set up client", zap.Error(err))
	}

	if err := run(ctx, auth, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newFacade(cfg config.ClientConfig, logr *zap.Logger) (*facade.Facade, error) {
	passphrase := cfg.CredentialPassphrase
	if passphrase == "" {
		var err error
		if passphrase, err = readPassword("credential store passphrase: "); err != nil {
			return nil, err
		}
	}
	store, err := credstore.NewFileStore(cfg.CredentialPath, passphrase)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.BaseURL, nil, cfg.RequestTimeout, logr.Named("api"))
	g, err := guard.New(guard.Config{
		Doer:           &http.Client{Timeout: cfg.RequestTimeout},
		Refresher:      client,
		Store:          store,
		RefreshTimeout: cfg.RefreshTimeout,
		Logger:         logr.Named("guard"),
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "session expired; please log in again")
		},
	})
	if err != nil {
		return nil, err
	}
	return facade.New(client, g, logr.Named("facade")), nil
}

func run(ctx context.Context, auth *facade.Facade, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "signup", "login":
		if *email == "" {
			return errors.New("-email is required")
		}
		password, err := readPassword("password: ")
		if err != nil {
			return err
		}
		var ok bool
		if cmd == "signup" {
			ok = auth.Signup(ctx, *name, *email, password)
		} else {
			ok = auth.Login(ctx, *email, password)
		}
		if !ok {
			return fmt.Errorf("%s failed: %w", cmd, auth.LastError())
		}
		fmt.Fprintln(out, "logged in")
		return nil

	case "logout":
		auth.RestoreSession(ctx)
		auth.Logout(ctx)
		if err := auth.LastError(); err != nil {
			return err
		}
		fmt.Fprintln(out, "logged out")
		return nil

	case "status":
		fmt.Fprintln(out, auth.RestoreSession(ctx))
		return auth.LastError()

	case "me":
		if auth.RestoreSession(ctx) != guard.Active {
			return errors.New("not logged in")
		}
		identity, err := auth.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "id:       %s\nemail:    %s\nverified: %t\n", identity.ID, identity.Email, identity.EmailVerified)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}
