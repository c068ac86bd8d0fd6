// Package auth adapts bearer JWTs into the identity the registration core
// consumes. Tokens are issued elsewhere; this package only verifies them
// (Issue exists for tooling and tests).
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier returns a Verifier. now may be nil.
func NewVerifier(secret, issuer string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: now}
}

type claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Verify parses token and returns the identity it carries. The subject
// claim is the numeric participant id.
func (v *Verifier) Verify(token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, apperr.ErrUnauthenticated
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return model.Identity{}, mapJWTError(err)
	}

	id, err := strconv.ParseInt(parsed.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Identity{}, apperr.New(apperr.KindUnauthenticated, "token subject is not a participant id")
	}
	return model.Identity{ParticipantID: id, Name: parsed.Name, Email: parsed.Email}, nil
}

// Issue signs a token for identity valid for ttl.
func (v *Verifier) Issue(identity model.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   strconv.FormatInt(identity.ParticipantID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  identity.Name,
		Email: identity.Email,
	})
	return token.SignedString(v.secret)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(apperr.KindUnauthenticated, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperr.Wrap(apperr.KindUnauthenticated, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.Wrap(apperr.KindUnauthenticated, "token issuer mismatch", err)
	default:
		return apperr.Wrap(apperr.KindUnauthenticated, "token is invalid", err)
	}
}
