// Package oracle is the boundary to the natural-language reasoning engine.
// The bot treats it as a black box: prompt in, free text out, fallible. The
// structured-reply extraction lives here too so every caller goes through
// the same Ok/Malformed discipline.
package oracle

import "context"

// Oracle produces a free-text completion for a prompt. Replies are expected
// to embed one JSON object or array; parsing is the caller's problem via
// Extract.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
