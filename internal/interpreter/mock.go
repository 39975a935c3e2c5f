package interpreter

import (
	"context"
	"sync"

	"github.com/soyeahso/fichabot/internal/domain"
)

// Mock is a test double for Interpreter. An unset func echoes the text back
// as a single Unknown action.
type Mock struct {
	InterpretFunc func(ctx context.Context, userID, text string) ([]domain.Action, error)

	mu    sync.Mutex
	seen  []string
	users []string
}

func (m *Mock) Interpret(ctx context.Context, userID, text string) ([]domain.Action, error) {
	m.mu.Lock()
	m.seen = append(m.seen, text)
	m.users = append(m.users, userID)
	m.mu.Unlock()
	if m.InterpretFunc != nil {
		return m.InterpretFunc(ctx, userID, text)
	}
	return []domain.Action{domain.Unknown{Raw: text}}, nil
}

// Seen returns the messages interpreted so far, in order.
func (m *Mock) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.seen))
	copy(out, m.seen)
	return out
}
