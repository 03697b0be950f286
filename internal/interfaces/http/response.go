package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/family"
	"famfin/internal/shared/middleware"
)

const maxBodySize = 1 << 20 // 1 MiB

// FamilyResolver maps the authenticated user to the family they act for.
type FamilyResolver interface {
	ActiveFamilyID(ctx context.Context, userID string) (string, error)
}

type errorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError logs err when the status is a server error and always answers
// with message, never with err itself.
func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Int("status", status), zap.Error(err))
	} else if err != nil {
		logger.Debug(message, zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, logger, status, errorResponse{Error: message, Timestamp: time.Now().UTC()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// requireUser returns the authenticated user ID or answers 401.
func requireUser(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, logger, http.StatusUnauthorized, "Unauthorized", nil)
		return "", false
	}
	return userID, true
}

// requireFamily resolves the caller's family or answers with the matching error.
func requireFamily(w http.ResponseWriter, r *http.Request, families FamilyResolver, logger *zap.Logger) (string, bool) {
	userID, ok := requireUser(w, r, logger)
	if !ok {
		return "", false
	}
	familyID, err := families.ActiveFamilyID(r.Context(), userID)
	if errors.Is(err, family.ErrFamilyNotFound) {
		writeError(w, logger, http.StatusNotFound, "No family found for user", err)
		return "", false
	}
	if err != nil {
		writeError(w, logger, http.StatusInternalServerError, "Failed to resolve family", err)
		return "", false
	}
	return familyID, true
}

// HandleHealth answers liveness probes.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
