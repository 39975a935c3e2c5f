// Package interpreter turns user messages into action batches.
package interpreter

import (
	"context"

	"github.com/soyeahso/fichabot/internal/domain"
)

// Interpreter converts one user message into an ordered action batch.
// Implementations never execute anything; they only classify intent.
type Interpreter interface {
	Interpret(ctx context.Context, userID, text string) ([]domain.Action, error)
}
