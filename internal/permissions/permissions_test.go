package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "authorized", StatusAuthorized.String())
	assert.Equal(t, "denied", StatusDenied.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestRequestMediaHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RequestMedia(ctx, false, false)
	assert.ErrorIs(t, err, context.Canceled)
}
