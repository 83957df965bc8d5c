// devissuer serves a throwaway signing key and mints access tokens for
// local runs and end-to-end tests of the task API. Point the API at it with
// OIDC_ISSUER=<issuer-url> and OIDC_JWKS_URL=<addr>/.well-known/jwks.json.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/s1natex/todo-fixture-api/internal/devissuer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("devissuer", pflag.ContinueOnError)
	addr := flags.String("addr", ":8443", "listen address")
	issuerURL := flags.String("issuer", "http://localhost:8443", "value of the iss claim")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	iss, err := devissuer.New(*issuerURL)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           iss.Handler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("issuer_listen", slog.String("addr", *addr), slog.String("issuer", *issuerURL))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
