package models

import (
	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/models"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func OK(message string) SuccessResponse {
	return SuccessResponse{Success: true, Message: message}
}

type StartGameResponse struct {
	SessionID string `json:"sessionId"`
	Secret    string `json:"secret"`
	Seed      int64  `json:"seed"`
}

type EndGameResponse struct {
	Success        bool `json:"success"`
	ValidatedScore int  `json:"validatedScore"`
}

type CheckScoreResponse struct {
	Success          bool `json:"success"`
	Qualifies        bool `json:"qualifies"`
	CurrentThreshold int  `json:"currentThreshold"`
}

type LeaderboardResponse struct {
	Success     bool                      `json:"success"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

type SubmitScoreResponse struct {
	Success bool `json:"success"`
	// Position is the 1-based rank, 0 if the score fell off the board.
	Position    int                       `json:"position"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

type TokenResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

type TelemetryResponse struct {
	Success bool                  `json:"success"`
	Events  []game.TelemetryEvent `json:"events"`
}

type SubmissionsResponse struct {
	Success     bool                      `json:"success"`
	Submissions []models.LeaderboardEntry `json:"submissions"`
}

type HealthResponse struct {
	Success bool   `json:"success"`
	Store   string `json:"store"`
}
