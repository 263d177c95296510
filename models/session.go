package models

// GameSession is the server-side record of a single snake run.
type GameSession struct {
    ID        string `json:"id"`
    Secret    string `json:"secret"`
    Seed      int64  `json:"seed"`
    CreatedAt int64  `json:"createdAt"`
    IsActive  bool   `json:"isActive"`
    // ValidatedScore is set once, when the end-of-game telemetry passes validation.
    ValidatedScore *int `json:"validatedScore,omitempty"`
}

// Rejected reports whether the session ended without a validated score.
func (s *GameSession) Rejected() bool {
    return !s.IsActive && s.ValidatedScore == nil
}

// Clone returns a copy that shares no memory with s.
func (s *GameSession) Clone() *GameSession {
    c := *s
    if s.ValidatedScore != nil {
        v := *s.ValidatedScore
        c.ValidatedScore = &v
    }
    return &c
}

// MoveEvent is a direction change, t in ms since the game started.
type MoveEvent struct {
    T         int64  `json:"t"`
    Direction string `json:"direction"`
}

// FoodEvent is a food pickup, t in ms since the game started.
type FoodEvent struct {
    T        int64 `json:"t"`
    IsGolden bool  `json:"isGolden"`
}
