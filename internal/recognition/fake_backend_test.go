package recognition

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
)

// fakeBackend returns a canned result; behaviour can be switched per image content
type fakeBackend struct {
	name      string
	available bool
	languages []string
	result    *Result
	err       error
	panicMsg  string
	delay     time.Duration
	// failOn makes Recognize return an error result for images equal to it
	failOn []byte
	calls  atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) SupportedLanguages() []string {
	if !f.available {
		return nil
	}
	return f.languages
}

func (f *fakeBackend) Recognize(ctx context.Context, image []byte, language string) (*Result, error) {
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ErrorResult(f.name, ctx.Err().Error(), f.delay.Seconds()), nil
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.failOn != nil && bytes.Equal(image, f.failOn) {
		return ErrorResult(f.name, "unreadable image", 0.1), nil
	}
	if f.result == nil {
		return ErrorResult(f.name, "no result configured", 0), nil
	}
	r := *f.result
	r.Backend = f.name
	return &r, nil
}

func okBackend(name string, confidence float64, textLen int, seconds float64) *fakeBackend {
	return &fakeBackend{
		name:      name,
		available: true,
		languages: []string{"en"},
		result: &Result{
			Text:           strings.Repeat("a", textLen),
			Confidence:     confidence,
			Blocks:         []TextBlock{{Text: strings.Repeat("a", textLen), Confidence: confidence}},
			ProcessingTime: seconds,
		},
	}
}

func failingBackend(name string, message string) *fakeBackend {
	return &fakeBackend{
		name:      name,
		available: true,
		result:    &Result{Error: message},
	}
}

func registryWith(backends ...Backend) *Registry {
	r := NewRegistry()
	for _, b := range backends {
		r.Add(b)
	}
	return r
}

var errMisuse = errors.New("misuse")
