package handlers

import (
	"net/http"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/models"
	apimodels "github.com/kiliantyler/kil.dev-sub000/pkg/models"
	"github.com/kiliantyler/kil.dev-sub000/utils"
)

func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	session, err := h.cfg.Game.StartSession(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.cfg.Metrics.SessionStarted()

	utils.HandleSuccess(w, http.StatusOK, apimodels.StartGameResponse{
		SessionID: session.ID,
		Secret:    session.Secret,
		Seed:      session.Seed,
	})
}

func (h *Handler) RecordMove(w http.ResponseWriter, r *http.Request) {
	var req models.MoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Secret == "" || req.Direction == "" {
		badRequest(w, "sessionId, secret and direction are required.")
		return
	}

	if err := h.cfg.Game.RecordMove(r.Context(), req); err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.OK(""))
}

func (h *Handler) RecordFood(w http.ResponseWriter, r *http.Request) {
	var req models.FoodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Secret == "" {
		badRequest(w, "sessionId and secret are required.")
		return
	}

	if err := h.cfg.Game.RecordFood(r.Context(), req); err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.OK(""))
}

// EndGame runs the full telemetry validation for a finished run.
func (h *Handler) EndGame(w http.ResponseWriter, r *http.Request) {
	var req models.EndGameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Signature == "" || req.FinalScore == nil {
		badRequest(w, "sessionId, signature and finalScore are required.")
		return
	}
	if req.DurationMs < 0 {
		badRequest(w, "durationMs must not be negative.")
		return
	}

	score, err := h.cfg.Game.EndSession(r.Context(), game.EndRequest{
		SessionID:  req.SessionID,
		Signature:  req.Signature,
		FinalScore: *req.FinalScore,
		Events:     req.Events,
		Foods:      req.Foods,
		DurationMs: req.DurationMs,
	})
	h.cfg.Metrics.GameEnded(err)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.EndGameResponse{Success: true, ValidatedScore: score})
}
