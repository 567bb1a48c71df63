// Package handler exposes the HTTP boundary. Handlers read Idempotency-Key
// and If-Match headers, hash request bodies for the ledger, and map coded
// errors onto HTTP statuses.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/idempotency"
	"github.com/grantline-io/be-grants/internal/service"
)

const maxBodyBytes = 1 << 20

// readBody drains the request body with a size cap so the raw bytes can be
// both decoded and hashed.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read request body")
	}
	return body, nil
}

// actionMeta assembles the workflow metadata for a state-changing request:
// actor, idempotency key with the body hash, and the If-Match version.
func actionMeta(r *http.Request, actionKey string, body []byte) (service.ActionMeta, error) {
	// TODO: derive the actor from the JWT once platform auth lands.
	actorID := r.Header.Get("X-User-ID")

	meta := service.ActionMeta{ActorID: actorID}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		meta.IdempotencyKey = key
		meta.RequestHash = idempotency.HashRequest(actionKey, actorID, body)
	}

	if match := r.Header.Get("If-Match"); match != "" {
		v, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return meta, errors.InvalidInput("If-Match", "expected a numeric version")
		}
		meta.ExpectedVersion = &v
	}

	return meta, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw emits pre-serialized JSON, used for workflow responses so a replay
// returns the original bytes verbatim.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": errors.MessageOf(err),
	})
}

func optionalQuery(r *http.Request, name string) *string {
	if v := r.URL.Query().Get(name); v != "" {
		return &v
	}
	return nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
