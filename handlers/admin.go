package handlers

import (
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiliantyler/kil.dev-sub000/models"
	apimodels "github.com/kiliantyler/kil.dev-sub000/pkg/models"
	"github.com/kiliantyler/kil.dev-sub000/pkg/responses"
	"github.com/kiliantyler/kil.dev-sub000/utils"
)

const recentSubmissionsLimit = 50

// AdminLogin exchanges the admin password for a short-lived HS256 token.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	if len(h.cfg.AdminPasswordHash) == 0 {
		utils.HandleError(w, responses.NotFoundError{Msg: "Admin login is disabled."})
		return
	}

	var req models.AdminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := bcrypt.CompareHashAndPassword(h.cfg.AdminPasswordHash, []byte(req.Password)); err != nil {
		h.logger.Info("admin login refused")
		utils.HandleError(w, responses.UnauthorizedError{Msg: "Invalid password."})
		return
	}

	expiresAt := h.now().Add(h.cfg.AdminTokenTTL)
	claims := models.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(h.now()),
		},
		Role: models.AdminRole,
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.cfg.JWTSecret)
	if err != nil {
		h.fail(w, err)
		return
	}

	utils.HandleSuccess(w, http.StatusOK, apimodels.TokenResponse{
		Success:     true,
		AccessToken: tokenString,
		ExpiresAt:   expiresAt.UnixMilli(),
	})
}

func (h *Handler) SessionTelemetry(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Telemetry == nil {
		utils.HandleError(w, responses.NotFoundError{Msg: "Telemetry is not recorded."})
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	events, err := h.cfg.Telemetry.Events(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.TelemetryResponse{Success: true, Events: events})
}

func (h *Handler) RecentSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Archive == nil {
		utils.HandleError(w, responses.NotFoundError{Msg: "Submission archive is not configured."})
		return
	}

	entries, err := h.cfg.Archive.Recent(r.Context(), recentSubmissionsLimit)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.SubmissionsResponse{Success: true, Submissions: entries})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health != nil {
		if err := h.cfg.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			utils.HandleSuccess(w, http.StatusServiceUnavailable, apimodels.HealthResponse{Success: false, Store: "unavailable"})
			return
		}
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.HealthResponse{Success: true, Store: "ok"})
}
