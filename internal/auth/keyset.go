package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

type RemoteKeySetConfig struct {
	URL             string
	RefreshInterval time.Duration
	// UnknownKIDInterval is the minimum gap between refetches triggered by a
	// token whose kid is not in the cached set.
	UnknownKIDInterval time.Duration
	// WarmupTimeout bounds the retries of the first fetch. When it runs out
	// the key set is still returned and fills itself on the first token.
	WarmupTimeout time.Duration
	// InsecureSkipVerify accepts self-signed issuer certificates. Local test setups only.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// NewRemoteKeySet fetches the issuer's JWK Set and refreshes it in the
// background until ctx is cancelled. A token signed with an unknown kid
// triggers a rate-limited refetch, which covers key rotation and an issuer
// that was down at startup.
func NewRemoteKeySet(ctx context.Context, cfg RemoteKeySetConfig) (keyfunc.Keyfunc, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.UnknownKIDInterval <= 0 {
		cfg.UnknownKIDInterval = time.Minute
	}

	u, err := url.ParseRequestURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jwks url: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if cfg.InsecureSkipVerify {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev issuers
		client.Transport = tr
	}

	options := func(lazy bool) jwkset.HTTPClientStorageOptions {
		return jwkset.HTTPClientStorageOptions{
			Client:                    client,
			Ctx:                       ctx,
			HTTPExpectedStatus:        http.StatusOK,
			HTTPMethod:                http.MethodGet,
			HTTPTimeout:               10 * time.Second,
			NoErrorReturnFirstHTTPReq: lazy,
			RefreshErrorHandler: func(ctx context.Context, err error) {
				logger.ErrorContext(ctx, "jwks_refresh_failed",
					slog.String("url", cfg.URL),
					slog.String("error", err.Error()),
				)
			},
			RefreshInterval: cfg.RefreshInterval,
		}
	}

	retry := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "jwks_fetch_retry",
				slog.String("url", cfg.URL),
				slog.String("error", err.Error()),
				slog.Duration("next", next),
			)
		}),
	}
	if cfg.WarmupTimeout > 0 {
		retry = append(retry, backoff.WithMaxElapsedTime(cfg.WarmupTimeout))
	} else {
		retry = append(retry, backoff.WithMaxTries(1))
	}

	remote, err := backoff.Retry(ctx, func() (jwkset.Storage, error) {
		return jwkset.NewStorageFromHTTP(u, options(false))
	}, retry...)
	if err != nil {
		logger.WarnContext(ctx, "jwks_warmup_failed",
			slog.String("url", cfg.URL),
			slog.String("error", err.Error()),
		)
		remote, err = jwkset.NewStorageFromHTTP(u, options(true))
		if err != nil {
			return nil, fmt.Errorf("jwks storage: %w", err)
		}
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{cfg.URL: remote},
		RefreshUnknownKID: rate.NewLimiter(rate.Every(cfg.UnknownKIDInterval), 1),
		RateLimitWaitMax:  time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks client: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}
	return k, nil
}
