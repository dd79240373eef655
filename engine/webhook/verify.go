package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	headerSlackSignature = "X-Slack-Signature"
	headerSlackTimestamp = "X-Slack-Request-Timestamp"
	headerAsanaSignature = "X-Hook-Signature"
	prefixEnv            = "env://"
	prefixSlackV0        = "v0="
)

const defaultSkew = 5 * time.Minute

// Verifier validates an incoming webhook request using the given raw body.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte) error
}

// NewVerifier builds the signature verifier for one provider. Secrets may be
// indirected through env:// so configs never embed key material.
func NewVerifier(tool, secret string, skew time.Duration) (Verifier, error) {
	if skew <= 0 {
		skew = defaultSkew
	}
	switch tool {
	case "slack":
		sec, err := resolveSecret(secret)
		if err != nil {
			return nil, err
		}
		return slackVerifier{secret: sec, skew: skew, now: time.Now}, nil
	case "asana":
		sec, err := resolveSecret(secret)
		if err != nil {
			return nil, err
		}
		return asanaVerifier{secret: sec}, nil
	case "gmail":
		// Gmail deliveries arrive via Pub/Sub push; authenticity rides on the
		// subscription token rather than a body signature.
		return gmailVerifier{token: secret}, nil
	default:
		return nil, fmt.Errorf("no verifier for tool %q", tool)
	}
}

func resolveSecret(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty signing secret")
	}
	if after, ok := strings.CutPrefix(s, prefixEnv); ok {
		val := os.Getenv(after)
		if val == "" {
			return nil, fmt.Errorf("secret env %q not set", after)
		}
		return []byte(val), nil
	}
	return []byte(s), nil
}

// slackVerifier implements Slack's v0 signing scheme: HMAC-SHA256 over
// "v0:<timestamp>:<body>" with a bounded timestamp skew.
type slackVerifier struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

func (v slackVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	tsStr := r.Header.Get(headerSlackTimestamp)
	sig := r.Header.Get(headerSlackSignature)
	if tsStr == "" || sig == "" {
		return errors.New("missing Slack signature headers")
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return errors.New("invalid Slack timestamp")
	}
	now := v.now()
	tstamp := time.Unix(ts, 0)
	if now.Sub(tstamp) > v.skew || tstamp.Sub(now) > v.skew {
		return errors.New("timestamp skew too large")
	}
	if !strings.HasPrefix(sig, prefixSlackV0) {
		return errors.New("invalid Slack signature format")
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig[len(prefixSlackV0):]))
	if err != nil {
		return fmt.Errorf("invalid Slack signature encoding: %w", err)
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte("v0:"))
	_, _ = mac.Write([]byte(tsStr))
	_, _ = mac.Write([]byte(":"))
	_, _ = mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("signature mismatch")
	}
	return nil
}

// asanaVerifier checks X-Hook-Signature: hex HMAC-SHA256 over the raw body.
type asanaVerifier struct {
	secret []byte
}

func (v asanaVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	sig := r.Header.Get(headerAsanaSignature)
	if sig == "" {
		return errors.New("missing X-Hook-Signature")
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return fmt.Errorf("invalid Asana signature encoding: %w", err)
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("signature mismatch")
	}
	return nil
}

// gmailVerifier checks the Pub/Sub push token and envelope shape.
type gmailVerifier struct {
	token string
}

func (v gmailVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	if v.token != "" && !hmac.Equal([]byte(r.URL.Query().Get("token")), []byte(v.token)) {
		return errors.New("invalid Pub/Sub token")
	}
	if !strings.Contains(string(body), `"message"`) {
		return errors.New("not a Pub/Sub envelope")
	}
	return nil
}
