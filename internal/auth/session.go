package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errSessionExpired = errors.New("session expired")
	errSessionBad     = errors.New("session token invalid")
)

// SessionClaims is the signed claim set of a session token. Roles and
// permissions are a snapshot for clients; the server re-derives both on use.
// CredentialVersion must equal the user's current version for the token to
// be accepted.
type SessionClaims struct {
	UserID            int64    `json:"uid"`
	Username          string   `json:"username"`
	Roles             []string `json:"roles"`
	Permissions       []string `json:"permissions"`
	CredentialVersion int64    `json:"cver"`
	jwt.RegisteredClaims
}

// Session is what a successful login or refresh hands back.
type Session struct {
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Principal   rbac.Principal
	Permissions []rbac.Permission
}

// SessionManager signs and verifies HS256 session tokens.
type SessionManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret, issuer string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for principal bound to credentialVersion, valid until
// expiresAt. A zero expiresAt starts a new session of the configured lifetime.
func (m *SessionManager) Issue(p rbac.Principal, perms []rbac.Permission, credentialVersion int64, expiresAt time.Time) (*Session, error) {
	issuedAt := m.now()
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(m.ttl)
	}

	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = string(r)
	}
	permCodes := make([]string, len(perms))
	for i, perm := range perms {
		permCodes[i] = string(perm)
	}

	claims := &SessionClaims{
		UserID:            p.UserID,
		Username:          p.Username,
		Roles:             roles,
		Permissions:       permCodes,
		CredentialVersion: credentialVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &Session{
		Token:       signed,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		Principal:   p,
		Permissions: perms,
	}, nil
}

// Parse verifies signature, issuer and expiry.
func (m *SessionManager) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", errSessionBad, err)
	}
	if !token.Valid || claims.UserID == 0 || claims.IssuedAt == nil {
		return nil, errSessionBad
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, errSessionBad
	}
	return claims, nil
}
