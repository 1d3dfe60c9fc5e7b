package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocalnews/assistant/internal/apperr"
)

// LocalProvider answers without a network call. It is meant for running the
// service offline; the reply only acknowledges the last user message.
type LocalProvider struct{}

func (LocalProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.New(apperr.NetworkFailure, opGenerate, err)
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return fmt.Sprintf("You said: %s", messages[i].Content), nil
		}
	}
	return "", apperr.New(apperr.MalformedInput, opGenerate, errors.New("no user message"))
}
