package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("join team: %w", New(KindTeamFull, "team Sharks is full"))

	require.True(t, errors.Is(err, ErrTeamFull))
	require.False(t, errors.Is(err, ErrAlreadyInTeam))
	assert.Equal(t, KindTeamFull, KindOf(err))
	assert.Equal(t, "team Sharks is full", MessageOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUnavailable, "store unavailable", cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidFormat:     http.StatusBadRequest,
		KindInvalidSignature:  http.StatusBadRequest,
		KindNotFound:          http.StatusNotFound,
		KindAlreadyRegistered: http.StatusConflict,
		KindAlreadyConfirmed:  http.StatusConflict,
		KindTeamFull:          http.StatusConflict,
		KindForbidden:         http.StatusForbidden,
		KindUnauthenticated:   http.StatusUnauthorized,
		KindUnavailable:       http.StatusServiceUnavailable,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind)
	}
}

func TestConflictKinds(t *testing.T) {
	assert.True(t, KindAlreadyConfirmed.Conflict())
	assert.True(t, KindAlreadyInTeam.Conflict())
	assert.False(t, KindInvalidSignature.Conflict())
	assert.False(t, KindUnavailable.Conflict())
}
