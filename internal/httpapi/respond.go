package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/moderation"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/store/pg"
	"voidmod.org/internal/stream"
	"voidmod.org/internal/tickets"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// respondError maps a service error to its status code. Unexpected errors are
// logged and hidden behind a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		permErr *auth.PermissionError
		roleErr *auth.RoleError
		modErr  *moderation.ValidationError
		tickErr *tickets.ValidationError
		maxErr  *http.MaxBytesError
		reqErr  *requestError
	)
	switch {
	case errors.As(err, &reqErr):
		writeError(w, r, http.StatusBadRequest, reqErr.msg)
	case errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, r, http.StatusUnauthorized, "session key rejected")
	case errors.Is(err, auth.ErrExpired):
		writeError(w, r, http.StatusUnauthorized, "session expired")
	case errors.Is(err, auth.ErrMalformed):
		writeError(w, r, http.StatusUnauthorized, "invalid session")
	case errors.Is(err, auth.ErrRevokedSession):
		writeError(w, r, http.StatusUnauthorized, "key invalid or disabled")
	case errors.As(err, &permErr):
		writeError(w, r, http.StatusForbidden, permErr.Error())
	case errors.As(err, &roleErr):
		writeError(w, r, http.StatusForbidden, roleErr.Error())
	case errors.Is(err, auth.ErrPermissionDenied), errors.Is(err, auth.ErrRoleDenied):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.As(err, &modErr):
		writeError(w, r, http.StatusBadRequest, modErr.Message)
	case errors.As(err, &tickErr):
		writeError(w, r, http.StatusBadRequest, tickErr.Message)
	case errors.As(err, &maxErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "key not found")
	case errors.Is(err, tickets.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ticket not found")
	case errors.Is(err, provider.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "member not found")
	case errors.Is(err, moderation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "record not found")
	case errors.Is(err, auth.ErrNotBootstrappable):
		writeError(w, r, http.StatusConflict, "bootstrap impossible, session keys already exist")
	case errors.Is(err, moderation.ErrConflict):
		writeError(w, r, http.StatusConflict, "record changed concurrently, retry")
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "member provider unavailable")
	case errors.Is(err, pg.ErrUnavailable), errors.Is(err, stream.ErrHubClosed):
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		obs.Logger().Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a single JSON object into dst and runs its validate tags.
func (a *API) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return err
		case errors.Is(err, io.EOF):
			return errEmptyBody
		default:
			return &requestError{msg: "invalid JSON body"}
		}
	}
	if err := a.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &requestError{msg: fieldMessage(verrs[0])}
		}
		return &requestError{msg: err.Error()}
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func (a *API) decodeOptionalJSON(r *http.Request, dst any) error {
	if err := a.decodeJSON(r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

type requestError struct {
	msg string
}

var errEmptyBody = &requestError{msg: "request body is required"}

func (e *requestError) Error() string { return e.msg }

func fieldMessage(fe validator.FieldError) string {
	field := jsonName(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func jsonName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "field"
	}
	return strings.ToLower(name[:1]) + name[1:]
}
