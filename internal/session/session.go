package session

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/event-bookings/internal/domain"
)

const CookieName = "token"

// Claims mirror what the login flow signs: the user id under "_id".
type Claims struct {
	UserID int64 `json:"_id"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

func (m *Manager) Issue(userID int64) (string, error) {
	claims := Claims{UserID: userID}
	if m.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(m.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse validates token and returns the user id it was issued for.
func (m *Manager) Parse(token string) (int64, error) {
	if token == "" {
		return 0, errors.Mark(errors.New("missing session token"), domain.ErrUnauthorized)
	}
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "parse session token"), domain.ErrUnauthorized)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.UserID <= 0 {
		return 0, errors.Mark(errors.New("invalid session token"), domain.ErrUnauthorized)
	}
	return c.UserID, nil
}

// FromRequest reads and validates the session cookie.
func (m *Manager) FromRequest(r *http.Request) (int64, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "read session cookie"), domain.ErrUnauthorized)
	}
	return m.Parse(c.Value)
}
