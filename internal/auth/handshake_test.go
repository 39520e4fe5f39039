package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tweetcore/internal/testutil"
)

func TestHandshake_Transitions(t *testing.T) {
	h := newHandshake(StateNoToken)

	assert.Error(t, h.advance(StateVerifierReceived), "cannot skip the request leg")
	assert.NoError(t, h.advance(StateTemporaryTokenRequested))
	assert.NoError(t, h.advance(StateVerifierReceived))
	assert.Error(t, h.advance(StateVerifierReceived), "verifier is accepted once")
	assert.NoError(t, h.advance(StateAccessTokenIssued))
	assert.True(t, h.State().IsTerminal())

	h.fail(testutil.ErrTestFailure)
	assert.Equal(t, StateAccessTokenIssued, h.State(), "terminal states are final")
	assert.NoError(t, h.Err())
}

func TestHandshake_Fail(t *testing.T) {
	h := newHandshake(StateTemporaryTokenRequested)
	h.fail(testutil.ErrTestFailure)

	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, testutil.ErrTestFailure, h.Err())
	assert.Error(t, h.advance(StateVerifierReceived))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "no_token", StateNoToken.String())
	assert.Equal(t, "access_token_issued", StateAccessTokenIssued.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
