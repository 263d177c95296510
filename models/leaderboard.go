package models

type LeaderboardEntry struct {
    ID        string `json:"id"`
    Name      string `json:"name"`
    Score     int    `json:"score"`
    Timestamp int64  `json:"timestamp"`
}
