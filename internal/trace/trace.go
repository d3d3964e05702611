/**
 * Trace Context Propagation
 *
 * Carries a correlation ID through every asynchronously-scheduled unit of
 * work so logs and errors for one document request can be joined post hoc.
 * The ID travels inside task payloads and is installed into the request
 * context at the top of each handler; nothing here is process-global, so a
 * reused worker goroutine can never leak an ID into unrelated work.
 */

package trace

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// HeaderName is the HTTP header used to accept and forward correlation IDs.
const HeaderName = "X-Correlation-ID"

// With returns a child context carrying the given correlation ID.
func With(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, correlationID)
}

// FromContext returns the correlation ID attached to ctx, or "" when none
// has been set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ensure returns the correlation ID from ctx, minting a fresh one and
// attaching it when the caller supplied none.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return With(ctx, id), id
}
