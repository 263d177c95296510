package game

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kiliantyler/kil.dev-sub000/models"
)

// Canonicalize serializes payload as JSON with object keys sorted at every
// depth. Array order is preserved, fields tagged omitempty and nil pointers
// behave as in encoding/json, and neither HTML characters nor U+2028/U+2029
// are escaped so the output matches JSON.stringify on a key-sorted object.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	// Round-trip through interface values: encoding/json writes map keys in
	// sorted order, and UseNumber keeps numbers byte-for-byte.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes that
// encoding/json always emits back into the raw characters.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && string(b[i+1:i+5]) == "u202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		// Any other escape is copied whole so an escaped backslash is never
		// mistaken for the start of a sequence.
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// Sign returns hex(sha256(secret + "." + Canonicalize(payload))).
func Sign(secret string, payload any) (string, error) {
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the signature of payload and compares it with signature
// in constant time.
func Verify(secret string, payload any, signature string) bool {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// EndGamePayload is the signed body of an end-of-game report.
type EndGamePayload struct {
	SessionID  string             `json:"sessionId"`
	FinalScore int                `json:"finalScore"`
	Events     []models.MoveEvent `json:"events"`
	Foods      []models.FoodEvent `json:"foods"`
	DurationMs int64              `json:"durationMs"`
}

// SubmissionPayload is the signed body of a leaderboard submission.
type SubmissionPayload struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}
