package llmclient

import (
	"context"
	"sync"
)

// Stub is a deterministic in-memory Client for tests: it returns queued
// responses in order rather than calling a network API.
type Stub struct {
	mu        sync.Mutex
	responses []string
	calls     []StubCall
	err       error
}

// StubCall records one Complete/CompleteStructured invocation for assertions.
type StubCall struct {
	SystemPrompt string
	UserPrompt   string
	Structured   bool
}

func NewStub(responses ...string) *Stub {
	return &Stub{responses: responses}
}

// SetError makes every subsequent call return err instead of a queued response.
func (s *Stub) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Stub) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.next(systemPrompt, userPrompt, false)
}

func (s *Stub) CompleteStructured(_ context.Context, systemPrompt, userPrompt string, _ map[string]any) (string, error) {
	return s.next(systemPrompt, userPrompt, true)
}

func (s *Stub) next(systemPrompt, userPrompt string, structured bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StubCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Structured: structured})
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "{}", nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}
