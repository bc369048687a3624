package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"lendledger/observability/logging"
	"lendledger/services/lendingd/config"
)

type authContextKey struct{}

func markAuthenticated(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, authContextKey{}, principal)
}

// principalFrom returns the identity that authenticated the request.
func principalFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(authContextKey{}).(string)
	return value, ok && value != ""
}

// authenticator accepts either a configured API token or an mTLS client
// certificate with an allowed common name.
type authenticator struct {
	tokens       []string
	commonNames  map[string]struct{}
	allowByToken bool
	allowByMTLS  bool
	logger       *slog.Logger
}

func newAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *authenticator {
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	commonNames := make(map[string]struct{})
	for _, name := range cfg.MTLS.AllowedCommonNames {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		commonNames[trimmed] = struct{}{}
	}
	return &authenticator{
		tokens:       tokens,
		commonNames:  commonNames,
		allowByToken: len(tokens) > 0,
		allowByMTLS:  len(commonNames) > 0,
		logger:       logger,
	}
}

// middleware rejects unauthenticated requests.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, status := a.authenticate(r)
		if status != http.StatusOK {
			a.logger.Warn("request rejected",
				"route", r.URL.Path,
				"status", status,
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r.WithContext(markAuthenticated(r.Context(), principal)))
	})
}

func (a *authenticator) authenticate(r *http.Request) (string, int) {
	if a == nil {
		return "", http.StatusInternalServerError
	}
	if !a.allowByToken && !a.allowByMTLS {
		return "", http.StatusForbidden
	}
	if a.allowByToken {
		if token, ok := a.authenticateByToken(r); ok {
			return "token:" + logging.MaskToken(token), http.StatusOK
		}
	}
	if a.allowByMTLS {
		if name, ok := a.authenticateByMTLS(r); ok {
			return "cn:" + name, http.StatusOK
		}
	}
	return "", http.StatusUnauthorized
}

func (a *authenticator) authenticateByToken(r *http.Request) (string, bool) {
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" && a.tokenAllowed(token) {
		return token, true
	}
	if token := strings.TrimSpace(r.Header.Get("X-API-Token")); token != "" && a.tokenAllowed(token) {
		return token, true
	}
	return "", false
}

func (a *authenticator) tokenAllowed(candidate string) bool {
	for _, token := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			return true
		}
	}
	return false
}

func (a *authenticator) authenticateByMTLS(r *http.Request) (string, bool) {
	if r.TLS == nil || len(a.commonNames) == 0 {
		return "", false
	}
	for _, chain := range r.TLS.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		if name := chain[0].Subject.CommonName; a.commonNameAllowed(name) {
			return name, true
		}
	}
	for _, cert := range r.TLS.PeerCertificates {
		if a.commonNameAllowed(cert.Subject.CommonName) {
			return cert.Subject.CommonName, true
		}
	}
	return "", false
}

func (a *authenticator) commonNameAllowed(name string) bool {
	_, ok := a.commonNames[strings.TrimSpace(name)]
	return ok
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
