package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/types"
)

const (
	defaultPage     = 1
	defaultLimit    = 20
	maxLimit        = 100
	maxRequestBytes = 1 << 20
)

type contextKey string

const contextActorKey contextKey = "actor"

// ErrorResponse is the error payload. Code is a stable machine string.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func withActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, contextActorKey, actor)
}

// actorFromContext returns the authenticated actor, or the anonymous actor
// when the request carried no token.
func actorFromContext(ctx context.Context) types.Actor {
	actor, _ := ctx.Value(contextActorKey).(types.Actor)
	return actor
}

func userIDFromContext(ctx context.Context) (int, error) {
	actor := actorFromContext(ctx)
	if actor.ID < 1 {
		return 0, errors.New("missing subject")
	}
	return actor.ID, nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps a challenge error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	code := challenge.Code(err)
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, challenge.ErrForbidden):
		writeError(w, http.StatusForbidden, code, err.Error())
	case errors.Is(err, challenge.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case errors.Is(err, challenge.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, code, "service temporarily unavailable")
	case code == "internal":
		writeError(w, http.StatusInternalServerError, code, "internal error")
	default:
		writeError(w, http.StatusConflict, code, err.Error())
	}
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parseIDParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id < 1 {
		return 0, errors.New("invalid " + strings.TrimSuffix(name, "ID") + " id")
	}
	return id, nil
}

func parseQueryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
