package handler

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"planning-poker/internal/middleware"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

// maxBodyBytes bounds action request bodies
const maxBodyBytes = 64 << 10

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes err in the shared error shape. Transient and internal
// failures are logged; client mistakes are not.
func respondError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	status, body := apperrors.ToResponse(err)
	body.RequestID = middleware.RequestIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(map[string]interface{}{
			"request_id": body.RequestID,
			"path":       r.URL.Path,
		}).Error("Request failed")
	}
	respondJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return apperrors.NewValidationError("Invalid request body", nil)
	}
	return nil
}

func generateETag(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	return fmt.Sprintf(`"%x"`, md5.Sum(jsonData))
}
