package server

import "context"

//go:generate mockgen -destination=servertest/mock_control.go -package=servertest worldbackup/internal/server Control

// Control is the capability that asks the live server to pause and resume
// its own world writes. Implementations return nil once the server has
// acknowledged the request.
type Control interface {
	RequestQuiesce(ctx context.Context) error
	RequestResume(ctx context.Context) error
}

// Reverter is implemented by controls that can re-enable autosave after a
// quiesce request failed part way, without running a full resume.
type Reverter interface {
	RevertQuiesce(ctx context.Context) error
}

// Noop controls a server that is not running. Every request succeeds.
type Noop struct{}

func (Noop) RequestQuiesce(context.Context) error { return nil }

func (Noop) RequestResume(context.Context) error { return nil }
