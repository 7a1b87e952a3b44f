package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(KindConflict, CodeAlreadyClosed, "lot %s already closed", "abc")
	wrapped := fmt.Errorf("close trade: %w", err)

	assert.ErrorIs(t, wrapped, ErrAlreadyClosed)
	assert.NotErrorIs(t, wrapped, ErrTradeNotFound)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, CodeAlreadyClosed, CodeOf(wrapped))
	assert.Equal(t, "lot abc already closed", MessageOf(wrapped))
}

func TestSameCodeDifferentKind(t *testing.T) {
	over := Newf(KindConflict, CodeInvalidQuantity, "quantity exceeds remaining")
	assert.ErrorIs(t, over, ErrInvalidQuantity)
	assert.Equal(t, KindConflict, KindOf(over))
	assert.Equal(t, KindValidation, KindOf(ErrInvalidQuantity))
}

func TestPlainErrors(t *testing.T) {
	plain := errors.New("disk full")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.Equal(t, CodeInternal, CodeOf(plain))
	assert.Equal(t, "disk full", MessageOf(plain))
	assert.Empty(t, MessageOf(nil))
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("binance price failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, "UPSTREAM_ERROR: binance price failed: connection refused", err.Error())
	assert.Equal(t, "upstream", KindOf(err).String())
}
