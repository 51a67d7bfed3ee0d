package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"voidmod.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth validates the bearer token and stores the credential in the context.
// Validation consults the key store, so a disabled key stops working immediately.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		cred, err := a.deps.Tokens.Validate(r.Context(), token)
		if err != nil {
			respondError(w, r, err)
			return
		}

		ctx := auth.ContextWithCredential(r.Context(), cred)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credential returns the caller set by withAuth. Handlers are only mounted behind
// withAuth, so a missing credential is an empty one that every check rejects.
func credential(r *http.Request) auth.Credential {
	cred, _ := auth.CredentialFromContext(r.Context())
	return cred
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("authentication required")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("authentication required")
	}
	return token, nil
}
