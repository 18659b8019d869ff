package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
)

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// respondError maps an engine error to its HTTP status:
//
//	400: precondition and validation failures, unknown report kinds
//	404: missing transactions and snapshots
//	409: already processed, FINAL snapshots
//	500: everything else; details are logged, not returned
func respondError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	switch {
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsClientError(err), errors.Is(err, report.ErrUnknownReport):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
