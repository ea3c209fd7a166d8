package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"forumchat/internal/domain"
)

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		log.Printf("http: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid("invalid " + name)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("invalid JSON body")
	}
	return nil
}

// queryInt reads a non-negative integer query parameter, def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.Invalid("invalid " + name)
	}
	return v, nil
}
