// Package game validates snake runs before their scores reach the
// leaderboard: sessions are issued with a secret, end-of-game telemetry is
// checked against that secret and a set of heuristics, and a leaderboard
// submission is only accepted for the score the session validated.
package game

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiliantyler/kil.dev-sub000/models"
)

const (
	sessionIDBytes     = 16
	sessionSecretBytes = 32
)

// SessionStore persists sessions. Get returns ErrSessionNotFound for unknown
// ids and Create returns ErrSessionExists rather than overwriting. Consume
// atomically removes and returns a session; concurrent callers other than
// the first see ErrSessionNotFound.
type SessionStore interface {
	Create(ctx context.Context, session *models.GameSession) error
	Get(ctx context.Context, id string) (*models.GameSession, error)
	Update(ctx context.Context, session *models.GameSession) error
	Delete(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) (*models.GameSession, error)
}

// NonceStore claims submission nonces; Claim reports false when the nonce
// was already taken.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// TelemetryEvent is one client report recorded while a game is running.
type TelemetryEvent struct {
	Kind       string          `json:"kind"`
	ReceivedAt int64           `json:"receivedAt"`
	Data       json.RawMessage `json:"data"`
}

type TelemetrySink interface {
	Append(ctx context.Context, sessionID string, event TelemetryEvent) error
}

// EndedSession is what gets archived once a session leaves the active state.
type EndedSession struct {
	SessionID  string             `json:"sessionId" bson:"sessionId"`
	CreatedAt  int64              `json:"createdAt" bson:"createdAt"`
	EndedAt    int64              `json:"endedAt" bson:"endedAt"`
	FinalScore int                `json:"finalScore" bson:"finalScore"`
	DurationMs int64              `json:"durationMs" bson:"durationMs"`
	Events     []models.MoveEvent `json:"events" bson:"events"`
	Foods      []models.FoodEvent `json:"foods" bson:"foods"`
	Valid      bool               `json:"valid" bson:"valid"`
	Reason     string             `json:"reason,omitempty" bson:"reason,omitempty"`
}

type SessionArchive interface {
	Save(ctx context.Context, session EndedSession) error
}

type Options struct {
	Sessions   SessionStore
	Nonces     NonceStore
	Telemetry  TelemetrySink
	Archive    SessionArchive
	Thresholds Thresholds
	// MaxSubmissionAge is the accepted distance between a signed
	// submission's timestamp and the server clock.
	MaxSubmissionAge time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

type Service struct {
	sessions   SessionStore
	nonces     NonceStore
	telemetry  TelemetrySink
	archive    SessionArchive
	thresholds Thresholds
	maxAge     time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		sessions:   opts.Sessions,
		nonces:     opts.Nonces,
		telemetry:  opts.Telemetry,
		archive:    opts.Archive,
		thresholds: opts.Thresholds,
		maxAge:     opts.MaxSubmissionAge,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "game")
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxAge <= 0 {
		s.maxAge = 5 * time.Minute
	}
	return s
}

func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// StartSession issues a new active session.
func (s *Service) StartSession(ctx context.Context) (*models.GameSession, error) {
	id, err := randomHex(sessionIDBytes)
	if err != nil {
		return nil, err
	}
	secret, err := randomHex(sessionSecretBytes)
	if err != nil {
		return nil, err
	}
	var seedBytes [4]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}

	session := &models.GameSession{
		ID:        id,
		Secret:    secret,
		Seed:      int64(binary.BigEndian.Uint32(seedBytes[:])),
		CreatedAt: s.now().UnixMilli(),
		IsActive:  true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("session started", "session_id", id)
	return session, nil
}

// RecordMove appends a direction change to the session's telemetry log.
func (s *Service) RecordMove(ctx context.Context, req models.MoveRequest) error {
	data, err := json.Marshal(struct {
		Direction string          `json:"direction"`
		GameState json.RawMessage `json:"gameState,omitempty"`
	}{req.Direction, req.GameState})
	if err != nil {
		return err
	}
	return s.record(ctx, req.SessionID, req.Secret, "move", data)
}

// RecordFood appends a food pickup to the session's telemetry log.
func (s *Service) RecordFood(ctx context.Context, req models.FoodRequest) error {
	data, err := json.Marshal(struct {
		Position models.Position `json:"position"`
		IsGolden bool            `json:"isGolden"`
		Score    int             `json:"score"`
	}{req.Position, req.IsGolden, req.Score})
	if err != nil {
		return err
	}
	return s.record(ctx, req.SessionID, req.Secret, "food", data)
}

func (s *Service) record(ctx context.Context, sessionID, secret, kind string, data json.RawMessage) error {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if !secretMatches(session.Secret, secret) {
		return fmt.Errorf("%w: credentials do not match", ErrInvalidSession)
	}
	if !session.IsActive {
		return ErrSessionNotActive
	}
	if s.telemetry == nil {
		return nil
	}

	event := TelemetryEvent{Kind: kind, ReceivedAt: s.now().UnixMilli(), Data: data}
	if err := s.telemetry.Append(ctx, sessionID, event); err != nil {
		s.logger.Warn("failed to record telemetry", "session_id", sessionID, "kind", kind, "error", err)
	}
	return nil
}

type EndRequest struct {
	SessionID  string
	Signature  string
	FinalScore int
	Events     []models.MoveEvent
	Foods      []models.FoodEvent
	DurationMs int64
}

// EndSession validates the end-of-game report and moves the session out of
// the active state. A report that fails the heuristics leaves the session
// terminally rejected; lookup and signature failures leave it untouched.
func (s *Service) EndSession(ctx context.Context, req EndRequest) (int, error) {
	session, err := s.lookup(ctx, req.SessionID)
	if err != nil {
		return 0, err
	}
	if !session.IsActive {
		return 0, ErrSessionNotActive
	}

	payload := EndGamePayload{
		SessionID:  req.SessionID,
		FinalScore: req.FinalScore,
		Events:     nonNil(req.Events),
		Foods:      nonNil(req.Foods),
		DurationMs: req.DurationMs,
	}
	if !Verify(session.Secret, payload, req.Signature) {
		return 0, ErrInvalidSignature
	}

	verdict := s.thresholds.Validate(Telemetry{
		FinalScore: req.FinalScore,
		Events:     payload.Events,
		Foods:      payload.Foods,
		DurationMs: req.DurationMs,
	})

	session.IsActive = false
	if verdict == nil {
		score := req.FinalScore
		session.ValidatedScore = &score
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		// The session stays active in the store, so the verdict must not
		// reach the client as final.
		if verdict != nil {
			s.logger.Error("failed to persist rejected session", "session_id", session.ID, "code", Code(verdict), "error", err)
		}
		return 0, fmt.Errorf("update session: %w", err)
	}

	s.archiveEnded(ctx, session, payload, verdict)

	if verdict != nil {
		s.logger.Info("end of game rejected", "session_id", session.ID, "code", Code(verdict), "reason", verdict.Error())
		return 0, verdict
	}
	s.logger.Info("end of game validated", "session_id", session.ID, "score", req.FinalScore)
	return req.FinalScore, nil
}

func (s *Service) archiveEnded(ctx context.Context, session *models.GameSession, p EndGamePayload, verdict error) {
	if s.archive == nil {
		return
	}
	record := EndedSession{
		SessionID:  session.ID,
		CreatedAt:  session.CreatedAt,
		EndedAt:    s.now().UnixMilli(),
		FinalScore: p.FinalScore,
		DurationMs: p.DurationMs,
		Events:     p.Events,
		Foods:      p.Foods,
		Valid:      verdict == nil,
	}
	if verdict != nil {
		record.Reason = Code(verdict)
	}
	if err := s.archive.Save(ctx, record); err != nil {
		s.logger.Warn("failed to archive session", "session_id", session.ID, "error", err)
	}
}

// AuthMode selects how a score submission proves it owns the session.
type AuthMode int

const (
	// AuthNone trusts the session id alone.
	AuthNone AuthMode = iota
	// AuthSecret requires the raw session secret.
	AuthSecret
	// AuthSignature requires a fresh, signed SubmissionPayload with an unused nonce.
	AuthSignature
)

type SubmissionCheck struct {
	Mode      AuthMode
	SessionID string
	Score     int

	Secret string

	Name      string
	Timestamp int64
	Nonce     string
	Signature string
}

// ValidateScoreSubmission gates leaderboard writes: the session must have
// ended with a validated score equal to the submitted one.
func (s *Service) ValidateScoreSubmission(ctx context.Context, check SubmissionCheck) (int, error) {
	session, err := s.lookup(ctx, check.SessionID)
	if err != nil {
		return 0, err
	}

	switch check.Mode {
	case AuthNone:
	case AuthSecret:
		if !secretMatches(session.Secret, check.Secret) {
			return 0, fmt.Errorf("%w: credentials do not match", ErrInvalidSession)
		}
	case AuthSignature:
		if err := s.checkSignedSubmission(session, check); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown auth mode %d", check.Mode)
	}

	if session.IsActive {
		return 0, ErrSessionStillActive
	}
	if session.ValidatedScore == nil {
		return 0, fmt.Errorf("%w: session was rejected", ErrScoreValidationMismatch)
	}
	if *session.ValidatedScore != check.Score {
		return 0, fmt.Errorf("%w: submitted %d", ErrScoreValidationMismatch, check.Score)
	}

	if check.Mode == AuthSignature && s.nonces != nil {
		claimed, err := s.nonces.Claim(ctx, check.SessionID+":"+check.Nonce, 2*s.maxAge)
		if err != nil {
			return 0, fmt.Errorf("claim nonce: %w", err)
		}
		if !claimed {
			return 0, ErrNonceReused
		}
	}
	return *session.ValidatedScore, nil
}

func (s *Service) checkSignedSubmission(session *models.GameSession, check SubmissionCheck) error {
	if check.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", ErrInvalidSignature)
	}
	skew := s.now().Sub(time.UnixMilli(check.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.maxAge {
		return fmt.Errorf("%w: off by %s", ErrStaleSubmission, skew.Round(time.Second))
	}
	payload := SubmissionPayload{
		Name:      check.Name,
		Score:     check.Score,
		SessionID: check.SessionID,
		Timestamp: check.Timestamp,
		Nonce:     check.Nonce,
	}
	if !Verify(session.Secret, payload, check.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ConsumeSession takes an ended, validated session out of the store before
// its score is written. Only one of several concurrent submissions for the
// same session gets it; the rest fail with ErrInvalidSession.
func (s *Service) ConsumeSession(ctx context.Context, sessionID string) (*models.GameSession, error) {
	session, err := s.sessions.Consume(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: session already submitted", ErrInvalidSession)
	}
	if err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}
	if session.IsActive || session.ValidatedScore == nil {
		s.ReleaseSession(ctx, session)
		return nil, fmt.Errorf("%w: session has no validated score", ErrScoreValidationMismatch)
	}
	return session, nil
}

// ReleaseSession puts back a session taken by ConsumeSession whose score
// could not be written, so the player can retry.
func (s *Service) ReleaseSession(ctx context.Context, session *models.GameSession) {
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Warn("failed to release session", "session_id", session.ID, "error", err)
	}
}

func (s *Service) lookup(ctx context.Context, id string) (*models.GameSession, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidSession)
	}
	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

func secretMatches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
