package confirmation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// Signer проверяет подпись доставки webhook: base64(HMAC-SHA256(secret, timestamp + "." + body)).
type Signer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSigner создаёт проверку подписи. tolerance > 0 дополнительно отвергает
// доставки с меткой времени дальше tolerance от текущего момента.
func NewSigner(secret string, tolerance time.Duration) *Signer {
	return &Signer{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Sign вычисляет подпись для timestamp и тела.
func (s *Signer) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись в постоянном времени.
func (s *Signer) Verify(timestamp, signature string, body []byte) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if len(s.secret) == 0 {
		return fmt.Errorf("%w: webhook secret is not configured", domain.ErrSignature)
	}
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", domain.ErrSignature)
	}

	expected := s.Sign(timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrSignature
	}

	if s.tolerance > 0 {
		at, err := parseTimestamp(timestamp)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSignature, err)
		}
		skew := s.now().Sub(at)
		if skew < 0 {
			skew = -skew
		}
		if skew > s.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrSignature)
		}
	}
	return nil
}

// parseTimestamp принимает unix-секунды, unix-миллисекунды или RFC3339.
func parseTimestamp(raw string) (time.Time, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %q", raw)
	}
	return at, nil
}
