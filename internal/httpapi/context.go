package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown so in-flight predicts stop waiting
// on workers instead of holding the graceful-shutdown window open.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level context joined into every
// handler's request context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context canceled when either parent is done: the
// request going away and the server shutting down both end the dispatch.
// The cancel func must be called when the handler returns.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
