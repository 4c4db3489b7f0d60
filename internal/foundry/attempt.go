package foundry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
	"go.uber.org/zap"
)

// attempt is the shared state of one build between the build goroutine
// and the dead-man's switch.
type attempt struct {
	rec            evidence.Recorder
	logger         *logging.Logger
	cleanupTimeout time.Duration

	// concluded is the single decision point: whoever flips it owns the
	// verdict, the seal and the sandbox removal.
	concluded atomic.Bool
	timedOut  atomic.Bool

	mu       sync.Mutex
	sb       *sandbox.Sandbox
	released bool

	auditOutput string
}

// win claims the conclusion. It returns false if the other path already did.
func (a *attempt) win() bool {
	return a.concluded.CompareAndSwap(false, true)
}

// adopt hands a freshly spawned sandbox to the attempt. If the attempt was
// concluded while the sandbox was being created, the sandbox is removed at
// once and adopt returns false.
func (a *attempt) adopt(sb *sandbox.Sandbox) bool {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		a.destroy(sb, false)
		return false
	}
	a.sb = sb
	a.mu.Unlock()
	return true
}

func (a *attempt) sandbox() *sandbox.Sandbox {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sb
}

// finish releases the sandbox and seals the evidence. Only the caller that
// won may call it.
func (a *attempt) finish(v evidence.Verdict, kill bool) {
	a.mu.Lock()
	a.released = true
	sb := a.sb
	a.mu.Unlock()

	if sb != nil {
		a.destroy(sb, kill)
	}
	if err := a.rec.Seal(v); err != nil {
		a.logger.Error(context.Background(), "failed to seal evidence", zap.Error(err), zap.String("path", a.rec.Path()))
	}
}

// destroy removes sb on a fresh context: the build context may already be
// cancelled and cleanup must still reach the engine.
func (a *attempt) destroy(sb *sandbox.Sandbox, kill bool) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cleanupTimeout)
	defer cancel()

	if kill {
		if err := sb.Kill(ctx); err != nil {
			a.logger.Warn(ctx, "failed to kill sandbox", zap.String("sandbox", sb.Name()), zap.Error(err))
		}
	}
	if err := sb.Destroy(ctx); err != nil {
		a.logger.Error(ctx, "failed to remove sandbox", zap.String("sandbox", sb.Name()), zap.Error(err))
	}
}
