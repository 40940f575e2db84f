package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/parsehaven/docforge/pkg/coreerr"
)

// APIResponse is the uniform JSON envelope for every handler response,
// following the teacher's web UI convention of a single success/data/
// error shape rather than per-endpoint ad hoc bodies.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError names the taxonomy kind alongside a caller-safe message, so
// clients can branch on Kind without parsing prose.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

// writeJSON encodes v directly with no envelope, used by handlers (like
// health) that define their own top-level response shape.
func writeJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// decodeJSONBody decodes r's body into dst, treating an empty body as a
// no-op rather than an error so admin endpoints work with curl -d '{}'.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// sendError maps err to its taxonomy HTTP status via coreerr.Kind and
// writes the uniform error envelope. A plain, non-tagged error is
// treated as KindUnknown and surfaced as a 500.
func sendError(w http.ResponseWriter, err error) {
	kind := coreerr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   &APIError{Kind: kind.String(), Message: err.Error()},
	})
}
