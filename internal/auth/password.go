package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/frahmantamala/meddevice-orders/internal"
	"golang.org/x/crypto/bcrypt"
)

// commonPatterns are rejected anywhere in a password after lower-casing and
// leetspeak folding.
var commonPatterns = []string{
	"password", "passw0rd", "qwerty", "asdfgh", "zxcvbn", "letmein", "welcome",
	"admin", "login", "iloveyou", "monkey", "dragon", "football", "baseball",
	"sunshine", "princess", "master", "shadow", "trustno", "changeme", "secret",
	"default", "summer", "winter", "spring", "autumn", "medical", "device",
	"123456", "abc123", "111111", "000000",
}

var leetFolder = strings.NewReplacer(
	"0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "8", "b", "9", "g",
	"@", "a", "$", "s", "!", "i", "|", "l", "+", "t",
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

type PasswordPolicy struct {
	MinLength int
	MaxAge    time.Duration
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12, MaxAge: 90 * 24 * time.Hour}
}

// ExpiresAt is the expiry assigned to a password changed at changedAt.
func (p PasswordPolicy) ExpiresAt(changedAt time.Time) time.Time {
	return changedAt.Add(p.MaxAge)
}

// Validate returns a PASSWORD_POLICY validation error listing every rule the
// password breaks, or nil.
func (p PasswordPolicy) Validate(password, username string) *internal.AppError {
	var violations []string

	if len([]rune(password)) < p.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, fmt.Sprintf("must not exceed %d bytes", maxPasswordBytes))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if !hasSymbol {
		violations = append(violations, "must contain a symbol")
	}

	lowered := strings.ToLower(password)
	folded := leetFolder.Replace(lowered)
	for _, pattern := range commonPatterns {
		if strings.Contains(lowered, pattern) || strings.Contains(folded, pattern) {
			violations = append(violations, "must not contain a common word or pattern")
			break
		}
	}
	if hasRun(lowered, 4) {
		violations = append(violations, "must not contain sequential or repeated characters")
	}

	if u := strings.ToLower(strings.TrimSpace(username)); len(u) >= 3 {
		if strings.Contains(lowered, u) || strings.Contains(folded, u) {
			violations = append(violations, "must not contain the username")
		}
	}

	if len(violations) == 0 {
		return nil
	}

	details := internal.ValidationErrors{}
	for _, v := range violations {
		details.Errors = append(details.Errors, internal.ValidationError{
			Field:   "password",
			Message: "password " + v,
			Code:    string(internal.ErrCodePasswordPolicy),
		})
	}
	return internal.NewValidationError("Password does not meet policy", internal.ErrCodePasswordPolicy).WithDetails(details)
}

// hasRun reports n or more consecutive characters that repeat or step by one
// in either direction, e.g. "aaaa", "1234", "dcba".
func hasRun(s string, n int) bool {
	rs := []rune(s)
	if len(rs) < n {
		return false
	}
	same, up, down := 1, 1, 1
	for i := 1; i < len(rs); i++ {
		d := rs[i] - rs[i-1]
		same = bump(same, d == 0)
		up = bump(up, d == 1)
		down = bump(down, d == -1)
		if same >= n || up >= n || down >= n {
			return true
		}
	}
	return false
}

func bump(run int, cont bool) int {
	if cont {
		return run + 1
	}
	return 1
}

// Hasher wraps bcrypt with the configured cost.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy spends the same work as a real verification. Used when the
// account does not exist so response timing does not reveal that.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
