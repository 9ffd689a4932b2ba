package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/goflagship/experiments/internal/store"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, capping the body size.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

// identifiersFromQuery reads the user identifier set from query parameters,
// the same parameter names the realtime handshake uses.
func identifiersFromQuery(r *http.Request) store.IdentifierSet {
	q := r.URL.Query()
	return store.IdentifierSet{
		ID:         q.Get("user_id"),
		DeviceID:   q.Get("device_id"),
		Email:      q.Get("email"),
		ExternalID: q.Get("external_id"),
	}
}
