package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/models"
	apimodels "github.com/kiliantyler/kil.dev-sub000/pkg/models"
	"github.com/kiliantyler/kil.dev-sub000/utils"
)

func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cfg.Leaderboard.GetLeaderboard(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.LeaderboardResponse{Success: true, Leaderboard: entries})
}

func (h *Handler) CheckScore(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.Atoi(r.URL.Query().Get("score"))
	if err != nil || score < 0 {
		badRequest(w, "score must be a non-negative integer.")
		return
	}

	threshold, err := h.cfg.Leaderboard.QualificationThreshold(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.HandleSuccess(w, http.StatusOK, apimodels.CheckScoreResponse{
		Success:          true,
		Qualifies:        score >= threshold,
		CurrentThreshold: threshold,
	})
}

// SubmitScore writes a validated score to the leaderboard. The session is
// consumed before the write so the same run cannot be submitted twice.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req models.ScoreSubmissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Score == nil || req.SessionID == "" || req.Nonce == "" || req.Signature == "" || req.Timestamp <= 0 {
		badRequest(w, "name, score, sessionId, timestamp, nonce and signature are required.")
		return
	}

	err := h.submit(r.Context(), w, req)
	h.cfg.Metrics.ScoreSubmitted(err)
	if err != nil {
		h.fail(w, err)
	}
}

func (h *Handler) submit(ctx context.Context, w http.ResponseWriter, req models.ScoreSubmissionRequest) error {
	name, err := game.SanitizeName(req.Name)
	if err != nil {
		return err
	}

	score, err := h.cfg.Game.ValidateScoreSubmission(ctx, game.SubmissionCheck{
		Mode:      game.AuthSignature,
		SessionID: req.SessionID,
		Score:     *req.Score,
		Name:      req.Name,
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Signature: req.Signature,
	})
	if err != nil {
		return err
	}

	session, err := h.cfg.Game.ConsumeSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	entry := models.LeaderboardEntry{
		ID:        uuid.NewString(),
		Name:      name,
		Score:     score,
		Timestamp: h.now().UnixMilli(),
	}
	position, err := h.cfg.Leaderboard.AddScore(ctx, entry)
	if err != nil {
		h.cfg.Game.ReleaseSession(ctx, session)
		return err
	}
	if h.cfg.Archive != nil {
		if err := h.cfg.Archive.Save(ctx, entry, req.SessionID, position); err != nil {
			h.logger.Warn("failed to archive submission", "entry_id", entry.ID, "error", err)
		}
	}

	entries, err := h.cfg.Leaderboard.GetLeaderboard(ctx)
	if err != nil {
		return err
	}
	h.publish(entries)

	h.logger.Info("score submitted", "name", name, "score", score, "position", position)
	utils.HandleSuccess(w, http.StatusCreated, apimodels.SubmitScoreResponse{
		Success:     true,
		Position:    position,
		Leaderboard: entries,
	})
	return nil
}

func (h *Handler) ClearScores(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Leaderboard.Clear(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.publish([]models.LeaderboardEntry{})
	utils.HandleSuccess(w, http.StatusOK, apimodels.OK("Leaderboard cleared."))
}

func (h *Handler) publish(entries []models.LeaderboardEntry) {
	h.cfg.Metrics.SetLeaderboardSize(len(entries))
	if h.cfg.Hub != nil {
		h.cfg.Hub.BroadcastLeaderboard(entries)
	}
}
