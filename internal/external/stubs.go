package external

import (
	"context"
	"fmt"
	"sync"

	"chesshelper/internal/types"
)

// StubEmailProvider is an in-memory EmailProvider for local development and
// tests. It records every send and can be scripted to fail specific
// recipients, so queue behavior can be exercised without a SendGrid account.
type StubEmailProvider struct {
	mu       sync.Mutex
	sent     []types.SendInput
	failures map[string]*types.TransportError
	nextID   int
	logger   types.Logger
}

// NewStubEmailProvider creates a StubEmailProvider. logger may be nil.
func NewStubEmailProvider(logger types.Logger) *StubEmailProvider {
	return &StubEmailProvider{
		failures: make(map[string]*types.TransportError),
		logger:   logger,
	}
}

// Send records the input and returns a synthetic message ID, unless a
// failure has been scripted for the recipient.
func (s *StubEmailProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if failure, ok := s.failures[input.To]; ok {
		if s.logger != nil {
			s.logger.Warn("stub provider failing send", "to", input.To, "status", failure.StatusCode)
		}
		return "", failure
	}

	s.sent = append(s.sent, input)
	s.nextID++
	id := fmt.Sprintf("stub-%06d", s.nextID)

	if s.logger != nil {
		s.logger.Info("stub provider accepted send", "to", input.To, "subject", input.Subject, "message_id", id)
	}
	return id, nil
}

// FailWith scripts a transport failure for every subsequent send to the
// given recipient.
func (s *StubEmailProvider) FailWith(recipient string, failure *types.TransportError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[recipient] = failure
}

// ClearFailure removes a scripted failure for the recipient.
func (s *StubEmailProvider) ClearFailure(recipient string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, recipient)
}

// Sent returns a copy of all successfully recorded sends.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SendInput, len(s.sent))
	copy(out, s.sent)
	return out
}

var _ EmailProvider = (*StubEmailProvider)(nil)
