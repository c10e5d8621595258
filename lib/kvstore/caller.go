package kvstore

import (
	"context"
	"os"
)

type callerKey struct{}

// Caller identifies the client process on whose behalf an operation runs.
type Caller struct {
	UID int32
	PID int32
}

// WithCaller returns a context carrying the calling client.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx.
// Without one the current process is assumed to be the caller.
func CallerFrom(ctx context.Context) Caller {
	if ctx != nil {
		if c, ok := ctx.Value(callerKey{}).(Caller); ok {
			return c
		}
	}
	return Caller{UID: int32(os.Getuid()), PID: int32(os.Getpid())}
}
