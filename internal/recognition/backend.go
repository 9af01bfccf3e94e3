package recognition

import (
	"context"
)

// NoopBackendName is the name of the fallback used when nothing else is available
const NoopBackendName = "noop"

// Backend wraps one recognition engine behind a uniform capability set.
//
// Recognize reports ordinary recognition failures through Result.Error and
// returns a Go error only for misuse, such as being called while unavailable.
// Available is computed at construction and never changes afterwards.
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Available() bool
	SupportedLanguages() []string
	Recognize(ctx context.Context, image []byte, language string) (*Result, error)
}

// Factory constructs a backend. Returning an error marks the backend unavailable.
type Factory func() (Backend, error)

// Preprocessor prepares raw image bytes before recognition
type Preprocessor interface {
	Preprocess(ctx context.Context, image []byte) ([]byte, *PreprocessingInfo, error)
}

type noopBackend struct{}

// NewNoopBackend returns the always-available fallback backend
func NewNoopBackend() Backend {
	return noopBackend{}
}

func (noopBackend) Name() string { return NoopBackendName }

func (noopBackend) Available() bool { return true }

func (noopBackend) SupportedLanguages() []string { return []string{} }

func (noopBackend) Recognize(ctx context.Context, image []byte, language string) (*Result, error) {
	return ErrorResult(NoopBackendName, "no recognition backend is available", 0), nil
}

// unavailableBackend stands in for a backend whose construction failed
type unavailableBackend struct {
	name  string
	cause string
}

func (u *unavailableBackend) Name() string { return u.name }

func (u *unavailableBackend) Available() bool { return false }

func (u *unavailableBackend) SupportedLanguages() []string { return nil }

func (u *unavailableBackend) Recognize(ctx context.Context, image []byte, language string) (*Result, error) {
	return nil, errUnavailable(u.name)
}
