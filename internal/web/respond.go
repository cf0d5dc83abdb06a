package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/banner"
	"github.com/asd12288/meydacrm/internal/comment"
	"github.com/asd12288/meydacrm/internal/geocode"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/ticket"
	"github.com/asd12288/meydacrm/internal/validation"
)

const maxJSONBody = 1 << 20

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	apiJSON(w, map[string]string{"error": msg}, code)
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// errorStatus maps domain errors to HTTP status codes. Their messages are
// already user-facing.
var errorStatus = []struct {
	err  error
	code int
}{
	{lead.ErrNotFound, http.StatusNotFound},
	{comment.ErrNotFound, http.StatusNotFound},
	{ticket.ErrNotFound, http.StatusNotFound},
	{banner.ErrNotFound, http.StatusNotFound},
	{auth.ErrNotFound, http.StatusNotFound},
	{auth.ErrKeyNotFound, http.StatusNotFound},
	{auth.ErrPasskeyNotFound, http.StatusNotFound},
	{geocode.ErrNoResult, http.StatusNotFound},

	{lead.ErrForbidden, http.StatusForbidden},
	{comment.ErrForbidden, http.StatusForbidden},
	{ticket.ErrForbidden, http.StatusForbidden},
	{banner.ErrForbidden, http.StatusForbidden},

	{lead.ErrInvalidStatus, http.StatusBadRequest},
	{lead.ErrNoAssignees, http.StatusBadRequest},
	{lead.ErrInvalidAssignee, http.StatusBadRequest},
	{lead.ErrNoAddress, http.StatusBadRequest},
	{lead.ErrNoNameColumn, http.StatusBadRequest},
	{ticket.ErrInvalidStatus, http.StatusBadRequest},
	{geocode.ErrEmptyAddress, http.StatusBadRequest},
	{auth.ErrTokenInvalid, http.StatusBadRequest},

	{auth.ErrInvalidCredentials, http.StatusUnauthorized},

	{ticket.ErrClosed, http.StatusConflict},
	{auth.ErrUsernameTaken, http.StatusConflict},
	{auth.ErrLastAdmin, http.StatusConflict},

	{geocode.ErrUnavailable, http.StatusServiceUnavailable},
}

// fail writes the response for err. Unknown errors are logged and
// answered with a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var fields validation.Errors
	if errors.As(err, &fields) {
		apiJSON(w, map[string]interface{}{
			"error":  "Certains champs sont invalides",
			"fields": fields,
		}, http.StatusUnprocessableEntity)
		return
	}

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			apiError(w, e.err.Error(), e.code)
			return
		}
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	apiError(w, "Erreur interne, réessayez plus tard", http.StatusInternalServerError)
}

// decodeJSON reads a JSON body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			apiError(w, "Corps de requête vide", http.StatusBadRequest)
			return false
		}
		apiError(w, "JSON invalide", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID returns the numeric {id} route variable.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// principal returns the caller placed on the context by auth.Require.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func logger(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}
