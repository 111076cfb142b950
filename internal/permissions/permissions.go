// Package permissions asks the operating system for camera and microphone
// access before any device is opened.
package permissions

import "errors"

// ErrNotGranted is returned when the user or OS refuses access.
var ErrNotGranted = errors.New("permission not granted")

type Status int

const (
	StatusNotDetermined Status = iota
	StatusRestricted
	StatusDenied
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusNotDetermined:
		return "not determined"
	case StatusRestricted:
		return "restricted"
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}
