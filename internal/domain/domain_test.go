package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusLabels(t *testing.T) {
	assert.Equal(t, "queued", StatusPending.Label())
	assert.Equal(t, "running", StatusProcessing.Label())
	assert.Equal(t, "done", StatusCompleted.Label())
	assert.Equal(t, "error", StatusFailed.Label())
	assert.Equal(t, "archived", TaskStatus("archived").Label(), "unknown statuses fall back to their raw value")
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusPending.Before(StatusProcessing))
	assert.True(t, StatusProcessing.Before(StatusCompleted))
	assert.True(t, StatusProcessing.Before(StatusFailed))
	assert.False(t, StatusProcessing.Before(StatusPending), "a regression is never an advance")
	assert.False(t, StatusCompleted.Before(StatusFailed), "terminal states rank equal")
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(KindUploadFailed, "upload image", cause)

	assert.Equal(t, KindUploadFailed, KindOf(err))
	assert.False(t, NeedsRelogin(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upload image")
}

func TestErrorClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewSessionExpired("create task", ErrUnauthorized))

	assert.Equal(t, KindSessionExpired, KindOf(err))
	assert.True(t, NeedsRelogin(err))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnclassifiedErrors(t *testing.T) {
	err := errors.New("plain failure")

	assert.Equal(t, Kind(""), KindOf(err))
	assert.False(t, NeedsRelogin(err))
}
