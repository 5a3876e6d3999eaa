//go:build !cgo

package audio

import (
	apperr "github.com/meetscribe/platform/internal/errors"
)

// newPortAudioBackend is the no-cgo stand-in: gordonklaus/portaudio needs cgo,
// so builds without it report the backend unavailable and NewBackend degrades
// to the simulated backend.
func newPortAudioBackend() (Backend, error) {
	return nil, apperr.New(apperr.Unavailable, "portaudio backend requires cgo")
}
