package worker

import (
	"context"
	"sync"
)

type executionKey struct{}

// execution remembers which (task, target) pairs already reached the ledger
// during one Runner.Execute, so task-level retries count as one failure.
type execution struct {
	mu       sync.Mutex
	recorded map[string]bool
}

func withExecution(ctx context.Context) context.Context {
	if _, ok := ctx.Value(executionKey{}).(*execution); ok {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, &execution{recorded: make(map[string]bool)})
}

// claimFailure reports whether a failure of target may be written for this
// execution. Outside an execution every failure is written.
func claimFailure(ctx context.Context, task, target string) bool {
	ex, ok := ctx.Value(executionKey{}).(*execution)
	if !ok {
		return true
	}
	key := task + "\x00" + target
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.recorded[key] {
		return false
	}
	ex.recorded[key] = true
	return true
}
