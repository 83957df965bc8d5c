// Package devissuer is a minimal token issuer for local runs and tests. It
// signs RS256 access tokens and publishes the matching JWK Set. It performs
// no login and must never face real users.
package devissuer

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = time.Hour

type Issuer struct {
	url string
	kid string
	key *rsa.PrivateKey
	now func() time.Time
}

// New generates a fresh 2048-bit signing key for the issuer identified by url.
func New(url string) (*Issuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Issuer{
		url: url,
		kid: uuid.NewString(),
		key: key,
		now: time.Now,
	}, nil
}

func (i *Issuer) URL() string { return i.url }

// Public returns the verification key.
func (i *Issuer) Public() *rsa.PublicKey { return &i.key.PublicKey }

// TokenOptions tweaks minted tokens so tests can produce invalid ones.
type TokenOptions struct {
	TTL    time.Duration
	Issuer string
}

// Mint signs an access token for sub carrying the given scope.
func (i *Issuer) Mint(sub, scope string, opts ...TokenOptions) (string, error) {
	o := TokenOptions{TTL: DefaultTTL, Issuer: i.url}
	if len(opts) > 0 {
		if opts[0].TTL != 0 {
			o.TTL = opts[0].TTL
		}
		if opts[0].Issuer != "" {
			o.Issuer = opts[0].Issuer
		}
	}

	now := i.now()
	claims := jwt.MapClaims{
		"iss":   o.Issuer,
		"sub":   sub,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(o.TTL).Unix(),
		"jti":   uuid.NewString(),
	}
	if sub == "" {
		delete(claims, "sub")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid
	return token.SignedString(i.key)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKS returns the public JWK Set document.
func (i *Issuer) JWKS() []byte {
	pub := i.key.PublicKey
	set := jwkSet{Keys: []jwk{{
		Kty: "RSA",
		Kid: i.kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	b, _ := json.Marshal(set)
	return b
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Handler serves the JWK Set at /.well-known/jwks.json and /public_key.jwk
// and mints tokens on POST /token (form fields sub and scope).
func (i *Issuer) Handler(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	jwks := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(i.JWKS())
	}
	r.Get("/.well-known/jwks.json", jwks)
	r.Get("/public_key.jwk", jwks)

	r.Post("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		sub := strings.TrimSpace(r.PostForm.Get("sub"))
		if sub == "" {
			http.Error(w, "sub required", http.StatusBadRequest)
			return
		}
		scope := r.PostForm.Get("scope")

		tok, err := i.Mint(sub, scope)
		if err != nil {
			logger.Error("mint_failed", slog.String("error", err.Error()))
			http.Error(w, "mint failed", http.StatusInternalServerError)
			return
		}
		logger.Info("token_minted", slog.String("sub", sub), slog.String("scope", scope))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: tok,
			TokenType:   "Bearer",
			ExpiresIn:   int64(DefaultTTL / time.Second),
		})
	})
	return r
}
