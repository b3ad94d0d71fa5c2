package auth

import (
	"context"
	"errors"
	"time"

	"github.com/adwski/projhub-signaling/backend/config"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("invalid credentials")
)

type User struct {
	ID string `json:"id"`
}

// Claims mirror tokens issued by the account service: {"user": {"id": ...}}.
type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

type Verifier struct {
	cfg config.JWTConfig
}

func NewVerifier(cfg config.JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify validates token and returns caller identity.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(v.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.User.ID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Issue signs a token for the user. Used by tooling and tests,
// production tokens come from the account service.
func (v *Verifier) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		User: User{ID: userID},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   v.cfg.Issuer,
			Subject:  userID,
		},
	}
	if v.cfg.Expiration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.cfg.Expiration))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.cfg.Secret))
}

type ctxKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(ctxKey{}).(User)
	return user, ok
}
