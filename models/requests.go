package models

import "encoding/json"

type MoveRequest struct {
    SessionID string          `json:"sessionId"`
    Secret    string          `json:"secret"`
    Direction string          `json:"direction"`
    GameState json.RawMessage `json:"gameState,omitempty"`
}

type Position struct {
    X int `json:"x"`
    Y int `json:"y"`
}

type FoodRequest struct {
    SessionID string   `json:"sessionId"`
    Secret    string   `json:"secret"`
    Position  Position `json:"position"`
    IsGolden  bool     `json:"isGolden"`
    Score     int      `json:"score"`
}

// EndGameRequest carries the full telemetry bundle; Secret is accepted for
// older clients but never consulted.
type EndGameRequest struct {
    SessionID  string      `json:"sessionId"`
    Secret     string      `json:"secret,omitempty"`
    Signature  string      `json:"signature"`
    FinalScore *int        `json:"finalScore"`
    Events     []MoveEvent `json:"events"`
    Foods      []FoodEvent `json:"foods"`
    DurationMs int64       `json:"durationMs"`
}

type ScoreSubmissionRequest struct {
    Name      string `json:"name"`
    Score     *int   `json:"score"`
    SessionID string `json:"sessionId"`
    Timestamp int64  `json:"timestamp"`
    Nonce     string `json:"nonce"`
    Signature string `json:"signature"`
}

type AdminLoginRequest struct {
    Password string `json:"password"`
}
