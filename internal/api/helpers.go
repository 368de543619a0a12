package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xolohq/xolo/internal/api/middleware"
	"github.com/xolohq/xolo/internal/xoloerr"
)

// writeJSON writes v as a JSON body with status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {status, error} error body.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"error":      message,
		"request_id": middleware.GetRequestID(r.Context()),
	})
}

// writeWorkflowError maps err through xoloerr's taxonomy to an HTTP
// status.
func writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	xoloerr.WriteHTTP(w, err, middleware.GetRequestID(r.Context()))
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xoloerr.InvalidDataf("malformed request body: %v", err)
	}
	return nil
}

// decodeValid decodes dst and then checks its `validate` struct tags,
// folding any field-level failures into one InvalidData error.
func decodeValid(r *http.Request, dst interface{}) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	if err := middleware.ValidateStruct(dst); err != nil {
		fields := middleware.FormatValidationErrors(err)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Field+": "+f.Hint)
		}
		return xoloerr.InvalidDataf("invalid request: %s", strings.Join(parts, "; "))
	}
	return nil
}

// requestAdminHost extracts the authenticated principal (admin) and the
// caller's remote host, which together populate every xolo.ChangelogEntry
// this API layer triggers.
func requestAdminHost(r *http.Request) (admin, host string) {
	admin = middleware.Principal(r.Context())
	host = r.RemoteAddr
	return
}

func fmtPanic(rec interface{}) error {
	return fmt.Errorf("panic: %v", rec)
}
