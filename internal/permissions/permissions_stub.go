//go:build !darwin

package permissions

import "context"

// RequestMedia is a no-op outside macOS; a refused device shows up when it is
// opened instead.
func RequestMedia(ctx context.Context, video, audio bool) error {
	return ctx.Err()
}

// CheckAccessibility reports true outside macOS.
func CheckAccessibility() (bool, error) {
	return true, nil
}
