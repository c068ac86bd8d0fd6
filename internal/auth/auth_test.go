package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "event-registration", clock)
	id := model.Identity{ParticipantID: 42, Name: "Asha", Email: "asha@example.com"}

	token, err := v.Issue(id, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier("secret", "event-registration", clock)
	good, err := v.Issue(model.Identity{ParticipantID: 1}, time.Hour)
	require.NoError(t, err)

	expired, err := NewVerifier("secret", "event-registration", func() time.Time { return fixedNow.Add(-2 * time.Hour) }).
		Issue(model.Identity{ParticipantID: 1}, time.Hour)
	require.NoError(t, err)

	otherSecret, err := NewVerifier("other", "event-registration", clock).Issue(model.Identity{ParticipantID: 1}, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier("secret", "someone-else", clock).Issue(model.Identity{ParticipantID: 1}, time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "event-registration",
		Subject:   "asha",
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "event-registration",
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"bad subject":  badSubject,
		"alg none":     noneAlg,
		"tampered":     good + "x",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.ErrorIs(t, err, apperr.ErrUnauthenticated)
		})
	}
}
