package tap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finetune/internal/crossfade"
)

// Switch results and internal failure kinds.
var (
	// ErrSwitchCancelled means a newer switch superseded this one. It is
	// not a failure: the newer switch owns routing correctness, so
	// callers must not revert on it.
	ErrSwitchCancelled = errors.New("device switch cancelled")

	// errWarmupTimeout is internal; it routes the switch onto the
	// destructive fallback and never reaches callers.
	errWarmupTimeout = errors.New("secondary warmup timed out")
)

// Switch timing. Warmup polls cooperatively; the two ceilings reflect
// how long wired and wireless devices realistically take to produce
// their first buffer.
const (
	warmupPollInterval    = 5 * time.Millisecond
	warmupTimeoutWired    = 50 * time.Millisecond
	warmupTimeoutWireless = 500 * time.Millisecond
	crossfadeGrace        = 10 * time.Millisecond

	destructivePreSilence  = 100 * time.Millisecond
	destructivePostSilence = 150 * time.Millisecond
	destructiveFadeIn      = 100 * time.Millisecond
)

// Policy carries the per-switch inputs the engine resolves from the
// device list. Wireless widens the warmup ceiling.
type Policy struct {
	Wireless bool
}

func (p Policy) warmupTimeout() time.Duration {
	if p.Wireless {
		return warmupTimeoutWireless
	}
	return warmupTimeoutWired
}

// SwitchDevice migrates this tap to a new output device. It first
// attempts a gapless crossfade: open a secondary capture on the target,
// wait for it to warm up, blend equal-power, promote. If the secondary
// never produces samples in time, it falls back to a destructive switch
// (brief forced silence, teardown, reopen, fade back in).
//
// ctx is the per-app cancellation token: it is observed at every poll
// and sleep, and cancellation means a newer switch superseded this one:
// resources are released, the primary is left intact, and
// ErrSwitchCancelled is returned.
func (c *Controller) SwitchDevice(ctx context.Context, deviceUID string, pol Policy) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	if ctx.Err() != nil {
		return ErrSwitchCancelled
	}

	c.mu.Lock()
	if c.targetUID == deviceUID {
		c.mu.Unlock()
		return nil
	}
	prevUID := c.targetUID
	c.mu.Unlock()

	err := c.switchCrossfade(ctx, deviceUID, pol)
	if err == nil || errors.Is(err, ErrSwitchCancelled) {
		return err
	}
	if !errors.Is(err, errWarmupTimeout) {
		// Secondary creation failed outright; previous target stands.
		c.log.Warn("crossfade switch failed", "to", deviceUID, "err", err)
		return err
	}

	c.log.Debug("warmup timed out, falling back to destructive switch",
		"from", prevUID, "to", deviceUID)
	return c.switchDestructive(ctx, prevUID, deviceUID)
}

// switchCrossfade runs the cooperative path. Returns errWarmupTimeout
// when the destructive fallback should take over.
func (c *Controller) switchCrossfade(ctx context.Context, deviceUID string, pol Policy) error {
	sec, err := c.openStream(deviceUID, roleSecondary)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.secondary = sec
	c.mu.Unlock()

	rate := sec.prim.Format().SampleRate
	c.xfade.Begin(rate)

	abort := func() {
		c.xfade.Complete()
		c.mu.Lock()
		c.secondary = nil
		c.mu.Unlock()
		sec.destroy()
		c.forceSilence.Store(false)
	}

	// Phase 1: wait for the secondary to actually produce samples.
	deadline := time.Now().Add(pol.warmupTimeout())
	for !c.xfade.WarmupComplete() {
		if ctx.Err() != nil {
			abort()
			return ErrSwitchCancelled
		}
		if time.Now().After(deadline) {
			abort()
			return errWarmupTimeout
		}
		time.Sleep(warmupPollInterval)
	}

	// Phase 2: equal-power blend, timed in samples by the secondary.
	c.xfade.BeginCrossfading()
	deadline = time.Now().Add(crossfade.Duration + crossfadeGrace)
	for !c.xfade.CrossfadeComplete() {
		if ctx.Err() != nil {
			abort()
			return ErrSwitchCancelled
		}
		if time.Now().After(deadline) {
			// The secondary stalled mid-blend; treat like a warmup
			// failure and let the destructive path recover.
			abort()
			return errWarmupTimeout
		}
		time.Sleep(warmupPollInterval)
	}

	// Promote. Between CrossfadeComplete and Complete the machine is in
	// the dead zone, so the old primary is already silent.
	c.mu.Lock()
	old := c.primary
	sec.role.Store(rolePrimary)
	c.primary = sec
	c.secondary = nil
	c.targetUID = deviceUID
	c.mu.Unlock()

	if old != nil {
		old.destroy()
	}
	c.xfade.Complete()
	c.log.Debug("crossfade switch complete", "to", deviceUID)
	return nil
}

// switchDestructive tears the primary down and reopens it on the new
// device under forced silence. Forced silence is cleared on every exit
// path (success, error, and cancellation) via defer; leaving it set
// would permanently mute a surviving primary.
func (c *Controller) switchDestructive(ctx context.Context, prevUID, deviceUID string) (err error) {
	c.forceSilence.Store(true)
	defer c.forceSilence.Store(false)

	if err := sleepCtx(ctx, destructivePreSilence); err != nil {
		return ErrSwitchCancelled
	}

	c.mu.Lock()
	old := c.primary
	c.primary = nil
	c.mu.Unlock()
	if old != nil {
		old.destroy()
	}

	next, err := c.openStream(deviceUID, rolePrimary)
	if err != nil {
		// Best effort: put the old device back so audio is not lost
		// entirely. The original error still propagates so the engine
		// reverts routing.
		if prevUID != "" {
			if prev, reopenErr := c.openStream(prevUID, rolePrimary); reopenErr == nil {
				c.mu.Lock()
				c.primary = prev
				c.targetUID = prevUID
				c.mu.Unlock()
			} else {
				c.log.Error("failed to restore previous device after switch failure",
					"device", prevUID, "err", reopenErr)
			}
		}
		return fmt.Errorf("destructive switch to %s: %w", deviceUID, err)
	}

	c.mu.Lock()
	c.primary = next
	c.targetUID = deviceUID
	c.mu.Unlock()

	if err := sleepCtx(ctx, destructivePostSilence); err != nil {
		return ErrSwitchCancelled
	}

	// Fade back in: restart the ramp from zero, release the silence, and
	// give the ramp time to reach the target.
	next.resetGain.Store(true)
	c.forceSilence.Store(false)
	if err := sleepCtx(ctx, destructiveFadeIn); err != nil {
		return ErrSwitchCancelled
	}
	c.log.Debug("destructive switch complete", "to", deviceUID)
	return nil
}

// sleepCtx sleeps in poll-sized slices so cancellation is observed
// within one interval.
func sleepCtx(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > warmupPollInterval {
			remaining = warmupPollInterval
		}
		time.Sleep(remaining)
	}
}
