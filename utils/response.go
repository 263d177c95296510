package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiliantyler/kil.dev-sub000/pkg/models"
	"github.com/kiliantyler/kil.dev-sub000/pkg/responses"
)

func HandleSuccess(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// HandleError checks the error type and sends an appropriate response
func HandleError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	body := models.ErrorResponse{Success: false, Message: "Internal server error"}

	if apiErr, ok := err.(responses.APIError); ok {
		statusCode = apiErr.StatusCode()
		body.Message = apiErr.Error()
	}
	if coded, ok := err.(interface{ ErrorCode() string }); ok {
		body.Code = coded.ErrorCode()
	}

	HandleSuccess(w, statusCode, body)
}
