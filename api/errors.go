package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/certward/certward/certmgr"
	"github.com/certward/certward/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	if verrs, ok := certmgr.AsValidationErrors(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: verrs.Fields,
		})
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, certmgr.ErrServingCertificate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, certmgr.ErrRevokeFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, certmgr.ErrNoCSR):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
