package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/models"
	apimodels "github.com/kiliantyler/kil.dev-sub000/pkg/models"
	"github.com/kiliantyler/kil.dev-sub000/ratelimit"
	"github.com/kiliantyler/kil.dev-sub000/repository"
)

var fastRetry = repository.RetryPolicy{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type testServer struct {
	*httptest.Server
	redis *miniredis.Miniredis
}

type serverOptions struct {
	production     bool
	limit          int
	trustedProxies []netip.Prefix
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	thresholds := game.DevelopmentThresholds()
	if opts.production {
		thresholds = game.ProductionThresholds()
	}
	telemetry := repository.NewTelemetryLog(client)
	svc := game.NewService(game.Options{
		Sessions: repository.NewSessionStore(client, nil, repository.SessionStoreOptions{
			Retry: fastRetry, AllowFallback: !opts.production, Logger: logger, Metrics: m,
		}),
		Nonces:     repository.NewNonceStore(client, nil, fastRetry, m),
		Telemetry:  telemetry,
		Thresholds: thresholds,
		Logger:     logger,
	})

	limit := opts.limit
	if limit == 0 {
		limit = 100
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	hub := NewHub(m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	h := New(Config{
		Game:              svc,
		Leaderboard:       repository.NewLeaderboardStore(client, fastRetry, logger),
		Limiter:           ratelimit.NewMemory(limit, time.Minute, 100),
		Telemetry:         telemetry,
		Hub:               hub,
		Metrics:           m,
		Gatherer:          reg,
		Health:            func(ctx context.Context) error { return client.Ping(ctx).Err() },
		TrustedProxies:    opts.trustedProxies,
		JWTSecret:         []byte("jwt-test-secret"),
		AdminPasswordHash: hash,
		Debug:             !opts.production,
		Logger:            logger,
	})
	ts := httptest.NewServer(NewRouter(h))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, redis: srv}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

type startedGame struct {
	ID     string
	Secret string
}

func (s *testServer) start(t *testing.T) startedGame {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/game/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return startedGame{ID: body["sessionId"].(string), Secret: body["secret"].(string)}
}

func moves(n int) []models.MoveEvent {
	out := make([]models.MoveEvent, n)
	for i := range out {
		out[i] = models.MoveEvent{T: int64(100 * (i + 1)), Direction: "UP"}
	}
	return out
}

func foods(normal, golden int) []models.FoodEvent {
	var out []models.FoodEvent
	t := int64(0)
	for i := 0; i < normal; i++ {
		t += 250
		out = append(out, models.FoodEvent{T: t})
	}
	for i := 0; i < golden; i++ {
		t += 250
		out = append(out, models.FoodEvent{T: t, IsGolden: true})
	}
	if out == nil {
		out = []models.FoodEvent{}
	}
	return out
}

func endBody(t *testing.T, g startedGame, score int, ev []models.MoveEvent, fd []models.FoodEvent, duration int64) map[string]any {
	t.Helper()
	sig, err := game.Sign(g.Secret, game.EndGamePayload{
		SessionID: g.ID, FinalScore: score, Events: ev, Foods: fd, DurationMs: duration,
	})
	require.NoError(t, err)
	return map[string]any{
		"sessionId": g.ID, "signature": sig, "finalScore": score,
		"events": ev, "foods": fd, "durationMs": duration,
	}
}

func submitBody(t *testing.T, g startedGame, name string, score int, nonce string) map[string]any {
	t.Helper()
	ts := time.Now().UnixMilli()
	sig, err := game.Sign(g.Secret, game.SubmissionPayload{
		Name: name, Score: score, SessionID: g.ID, Timestamp: ts, Nonce: nonce,
	})
	require.NoError(t, err)
	return map[string]any{
		"name": name, "score": score, "sessionId": g.ID,
		"timestamp": ts, "nonce": nonce, "signature": sig,
	}
}

// playValidated runs a game through a validated end and returns it.
func (s *testServer) playValidated(t *testing.T, normal, golden int) (startedGame, int) {
	t.Helper()
	g := s.start(t)
	fd := foods(normal, golden)
	score := game.ScoreFromFoods(fd)
	resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, score, moves(6), fd, 10000))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return g, score
}

func TestGameFlow(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g := s.start(t)

	resp, _ := s.do(t, http.MethodPost, "/api/game/move", map[string]any{
		"sessionId": g.ID, "secret": g.Secret, "direction": "UP", "gameState": map[string]any{"length": 3},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/game/food", map[string]any{
		"sessionId": g.ID, "secret": g.Secret, "position": map[string]int{"x": 3, "y": 4}, "isGolden": false, "score": 10,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fd := foods(2, 0)
	resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 20, moves(6), fd, 3000))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 20, body["validatedScore"])

	resp, body = s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 20, moves(6), fd, 3000))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "session_not_active", body["code"])

	resp, body = s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "kt", 20, "n-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["position"])
	board := body["leaderboard"].([]any)
	require.Len(t, board, 1)
	assert.Equal(t, "KT", board[0].(map[string]any)["name"])

	resp, body = s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "kt", 20, "n-2"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_session", body["code"], "the session is consumed by the first submission")

	resp, body = s.do(t, http.MethodGet, "/api/scores", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["leaderboard"], 1)
}

func TestEndGame_Rejections(t *testing.T) {
	s := newTestServer(t, serverOptions{production: true})

	t.Run("missing fields", func(t *testing.T) {
		resp, body := s.do(t, http.MethodPost, "/api/game/end", map[string]any{"sessionId": "x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, false, body["success"])
	})

	t.Run("malformed json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.URL+"/api/game/end", strings.NewReader("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown session", func(t *testing.T) {
		g := startedGame{ID: "nope", Secret: "nope"}
		resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 20, moves(6), foods(2, 0), 3000))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_session", body["code"])
	})

	t.Run("score mismatch", func(t *testing.T) {
		g := s.start(t)
		resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 25, moves(6), foods(2, 0), 3000))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "score_mismatch", body["code"])
		assert.Contains(t, body["message"], "food events add up to 20")

		resp, body = s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", 25, "n"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "score_validation_mismatch", body["code"])
	})

	t.Run("moves too fast", func(t *testing.T) {
		g := s.start(t)
		ev := []models.MoveEvent{{T: 100}, {T: 200}, {T: 300}, {T: 400}, {T: 410}}
		resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 0, ev, foods(0, 0), 3000))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "move_too_fast", body["code"])
	})

	t.Run("forged signature", func(t *testing.T) {
		g := s.start(t)
		body := endBody(t, g, 20, moves(6), foods(2, 0), 3000)
		body["finalScore"] = 70
		body["foods"] = foods(2, 1)
		resp, out := s.do(t, http.MethodPost, "/api/game/end", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_signature", out["code"])
	})
}

func TestSubmitScore_StillActiveAndBadName(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g := s.start(t)

	resp, body := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", 0, "n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "session_still_active", body["code"])

	done, score := s.playValidated(t, 1, 0)
	resp, body = s.do(t, http.MethodPost, "/api/scores", submitBody(t, done, "123", score, "n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_name", body["code"])

	resp, body = s.do(t, http.MethodPost, "/api/scores", map[string]any{"name": "ABC"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSubmitScore_NonceReplay(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g, score := s.playValidated(t, 3, 0)

	require.NoError(t, s.redis.Set("game:nonce:"+g.ID+":dup", "1"))
	resp, out := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", score, "dup"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "nonce_reused", out["code"])

	resp, out = s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", score, "fresh"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, out)
}

func TestSubmitScore_ConcurrentSubmissionsWriteOnce(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g, score := s.playValidated(t, 4, 0)

	const submissions = 8
	bodies := make([][]byte, submissions)
	for i := range bodies {
		b, err := json.Marshal(submitBody(t, g, "RAC", score, fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
		bodies[i] = b
	}

	codes := make([]int, submissions)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(s.URL+"/api/scores", "application/json", bytes.NewReader(bodies[i]))
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, created, "codes=%v", codes)

	_, body := s.do(t, http.MethodGet, "/api/scores", nil)
	assert.Len(t, body["leaderboard"], 1)
}

func TestSubmitScore_FailedWriteKeepsSession(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g, score := s.playValidated(t, 2, 0)
	require.NoError(t, s.redis.Set("game:leaderboard", "not-a-sorted-set"))

	resp, _ := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", score, "first"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	s.redis.Del("game:leaderboard")
	resp, body := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ABC", score, "second"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, body)
}

func TestCheckScore(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp, body := s.do(t, http.MethodGet, "/api/scores/check?score=50", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["qualifies"])
	assert.EqualValues(t, 100, body["currentThreshold"])

	resp, body = s.do(t, http.MethodGet, "/api/scores/check?score=100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["qualifies"])

	resp, _ = s.do(t, http.MethodGet, "/api/scores/check?score=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitScore_RateLimited(t *testing.T) {
	t.Run("forwarded-for is ignored from direct clients", func(t *testing.T) {
		s := newTestServer(t, serverOptions{limit: 2})

		codes := make([]int, 4)
		for i := range codes {
			resp, _ := s.do(t, http.MethodPost, "/api/scores", map[string]any{}, "X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
			codes[i] = resp.StatusCode
		}
		assert.Equal(t, []int{400, 400, 429, 429}, codes)
	})

	t.Run("behind a trusted proxy", func(t *testing.T) {
		s := newTestServer(t, serverOptions{
			limit:          2,
			trustedProxies: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128")},
		})

		codes := make([]int, 3)
		for i := range codes {
			resp, _ := s.do(t, http.MethodPost, "/api/scores", map[string]any{}, "X-Forwarded-For", "203.0.113.5")
			codes[i] = resp.StatusCode
		}
		assert.Equal(t, []int{400, 400, 429}, codes)

		resp, _ := s.do(t, http.MethodPost, "/api/scores", map[string]any{}, "X-Forwarded-For", "203.0.113.6")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "other clients are unaffected")
	})
}

func TestStoreUnavailable(t *testing.T) {
	t.Run("production hides details", func(t *testing.T) {
		s := newTestServer(t, serverOptions{production: true})
		s.redis.SetError("LOADING")
		resp, body := s.do(t, http.MethodPost, "/api/game/start", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Internal server error", body["message"])
	})

	t.Run("development falls back to memory", func(t *testing.T) {
		s := newTestServer(t, serverOptions{})
		s.redis.SetError("LOADING")
		g := s.start(t)
		fd := foods(1, 0)
		resp, body := s.do(t, http.MethodPost, "/api/game/end", endBody(t, g, 10, moves(6), fd, 3000))
		assert.Equal(t, http.StatusOK, resp.StatusCode, body)
	})
}

func TestAdminClear(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g, score := s.playValidated(t, 12, 0)
	resp, _ := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "ZED", score, "n"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/scores/clear", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["access_token"].(string)

	resp, _ = s.do(t, http.MethodPost, "/api/scores/clear", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/api/scores", nil)
	assert.Empty(t, body["leaderboard"])

	resp, _ = s.do(t, http.MethodGet, "/api/admin/submissions", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no archive configured")
}

func TestAdminTelemetry(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	g := s.start(t)
	for _, dir := range []string{"UP", "LEFT"} {
		resp, _ := s.do(t, http.MethodPost, "/api/game/move", map[string]any{"sessionId": g.ID, "secret": g.Secret, "direction": dir})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	_, login := s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "hunter2"})
	token := login["access_token"].(string)

	resp, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/admin/sessions/%s/telemetry", g.ID), nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["events"], 2)

	resp, _ = s.do(t, http.MethodPost, "/api/game/move", map[string]any{"sessionId": g.ID, "secret": "bad", "direction": "UP"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLeaderboardSocket(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/leaderboard"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type string                    `json:"type"`
		Data []models.LeaderboardEntry `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "leaderboard", msg.Type)
	assert.Empty(t, msg.Data)

	// The hub registers the connection before its first frame is written,
	// so the broadcast below cannot race the subscription.
	g, score := s.playValidated(t, 0, 3)

	resp, _ := s.do(t, http.MethodPost, "/api/scores", submitBody(t, g, "GLD", score, "n"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Data, 1)
	assert.Equal(t, "GLD", msg.Data[0].Name)
	assert.Equal(t, 150, msg.Data[0].Score)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["store"])

	s.start(t)
	res, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "snake_sessions_started_total 1")

	s.redis.SetError("LOADING")
	resp, _ = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestResponseShapes(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	resp, err := http.Post(s.URL+"/api/game/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var start apimodels.StartGameResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
	assert.Len(t, start.SessionID, 32)
	assert.Len(t, start.Secret, 64)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
