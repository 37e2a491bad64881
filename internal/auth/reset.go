package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"
)

var ErrResetTokenNotFound = errors.New("reset token not found")

// ResetTokenStore keeps hashed reset tokens server-side. A user has at most
// one live token; saving a new one revokes the previous.
type ResetTokenStore interface {
	Save(ctx context.Context, userID int64, tokenHash string, ttl time.Duration) error
	// Lookup returns the owner without consuming the token.
	Lookup(ctx context.Context, tokenHash string) (int64, error)
	// Consume atomically removes the token and returns its owner. A token can
	// be consumed once.
	Consume(ctx context.Context, tokenHash string) (int64, error)
}

type ResetRecipient struct {
	UserID   int64
	Username string
	Email    string
}

// ResetDelivery is the only component that ever sees a raw reset token.
type ResetDelivery interface {
	DeliverResetToken(ctx context.Context, to ResetRecipient, token string, expiresAt time.Time) error
}

// LogDelivery records that a token was issued without writing the token. It
// stands in until a mail channel is wired.
type LogDelivery struct {
	logger *slog.Logger
}

func NewLogDelivery(logger *slog.Logger) *LogDelivery {
	return &LogDelivery{logger: logger}
}

func (d *LogDelivery) DeliverResetToken(ctx context.Context, to ResetRecipient, token string, expiresAt time.Time) error {
	d.logger.InfoContext(ctx, "password reset token issued",
		"user_id", to.UserID,
		"expires_at", expiresAt)
	return nil
}

// newResetToken returns a URL-safe random token and the hash stored for it.
func newResetToken() (raw string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
