package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/service"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeServiceError maps a service-layer failure to its HTTP rendering.
// AuthError carries its own status and machine-readable kind; anything else
// is an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, authErr.HTTPStatus(), model.ErrorResponse{
			Error: model.ErrorDetail{
				Code:    authErr.HTTPStatus(),
				Kind:    string(authErr.Kind),
				Message: authErr.Error(),
			},
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal error")
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
