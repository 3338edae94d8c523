package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/austindbirch/thought_relay/internal/category"
)

const (
	// InputCap bounds the raw thought text carried in a payload.
	InputCap = 10_000
	// ExpandedCap bounds the expanded text; larger because expansion output
	// routinely dwarfs the captured input.
	ExpandedCap = 50_000

	// DefaultTolerance is the replay-defense window for ValidateTimestamp.
	DefaultTolerance = 5 * time.Minute

	nonceBytes = 16
)

// Payload is the canonical outbound body. Field order is the canonical
// serialization order: the signature is computed over exactly these bytes, so
// the order must never change once deployed.
type Payload struct {
	Input       string `json:"input"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Priority    string `json:"priority"`
	Timestamp   string `json:"timestamp"` // RFC3339 UTC
	Expanded    string `json:"expanded"`
	Nonce       string `json:"nonce"` // hex, unique per signing operation
}

// SignedPayload pairs the canonical body bytes with their HMAC. Body is what
// goes on the wire verbatim; re-marshaling the Payload is not guaranteed to
// reproduce it byte-for-byte, so consumers must send Body as-is.
type SignedPayload struct {
	Payload   Payload
	Body      []byte
	Signature string // hex HMAC-SHA256; empty when signing is disabled
}

// Signed reports whether the payload carries a signature.
func (sp SignedPayload) Signed() bool { return sp.Signature != "" }

// Input collects the producer-supplied fields for one signing operation.
type Input struct {
	Input       string
	Category    category.Category
	Subcategory string
	Priority    category.Priority
	Expanded    string
}

// Sign builds the canonical payload for in and computes its HMAC-SHA256
// signature with secret. Input and expanded text are truncated to their caps,
// the category is validated against the known set, a fresh random nonce is
// generated, and the timestamp is fixed before signing so verification is
// deterministic. An empty secret yields an unsigned payload (degraded mode);
// callers surface that through health reporting, not errors.
func Sign(in Input, secret string) (SignedPayload, error) {
	if _, err := category.Parse(in.Category.String()); err != nil {
		return SignedPayload{}, err
	}

	nonce, err := newNonce()
	if err != nil {
		return SignedPayload{}, fmt.Errorf("generate nonce: %w", err)
	}

	p := Payload{
		Input:       truncate(in.Input, InputCap),
		Category:    in.Category.String(),
		Subcategory: in.Subcategory,
		Priority:    in.Priority.String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Expanded:    truncate(in.Expanded, ExpandedCap),
		Nonce:       nonce,
	}

	body, err := json.Marshal(p)
	if err != nil {
		return SignedPayload{}, fmt.Errorf("marshal payload: %w", err)
	}

	sp := SignedPayload{Payload: p, Body: body}
	if secret != "" {
		sp.Signature = computeHMAC(body, secret)
	}
	return sp, nil
}

// Verify recomputes the HMAC of body under secret and compares it to
// signature in constant time. The signature is the bare hex digest; strip any
// "sha256=" header prefix before calling.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := computeHMAC(body, secret)
	return hmac.Equal([]byte(signature), []byte(want))
}

// ValidateTimestamp rejects payload timestamps older or further in the future
// than tolerance. This is the replay defense companion to Verify: a captured
// request stays valid only within the window.
func ValidateTimestamp(ts string, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	skew := time.Since(t)
	if skew > tolerance {
		return fmt.Errorf("timestamp too old: %s beyond %s tolerance", skew.Round(time.Millisecond), tolerance)
	}
	if -skew > tolerance {
		return fmt.Errorf("timestamp too far in the future: %s beyond %s tolerance", (-skew).Round(time.Millisecond), tolerance)
	}
	return nil
}

func computeHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// truncate cuts s to at most max runes without splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
