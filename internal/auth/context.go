package auth

import "context"

type credentialContextKey struct{}
type tokenContextKey struct{}

// ContextWithCredential attaches the validated credential to the context.
func ContextWithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey{}, &cred)
}

// CredentialFromContext extracts the validated credential from the context.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	if ctx == nil {
		return Credential{}, false
	}
	v, ok := ctx.Value(credentialContextKey{}).(*Credential)
	if !ok || v == nil {
		return Credential{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
