package tap

import (
	"context"
	"errors"
	"testing"
	"time"

	"finetune/internal/capture"
	"finetune/internal/crossfade"
)

// pumpedHost returns a host whose taps feed themselves like real devices.
func pumpedHost(t *testing.T) *capture.FakeHost {
	t.Helper()
	h := testHost()
	h.AutoProduceInterval = time.Millisecond
	h.AutoProduceFrames = 512
	return h
}

func TestSwitchToSameDeviceIsNoop(t *testing.T) {
	h := pumpedHost(t)
	c, _ := startController(t, h)
	defer c.Stop()

	if err := c.SwitchDevice(context.Background(), "speakers", Policy{}); err != nil {
		t.Fatal(err)
	}
	if h.OpenTapCount() != 1 {
		t.Errorf("no-op switch opened a tap: %d taps", h.OpenTapCount())
	}
}

func TestSwitchCrossfade(t *testing.T) {
	h := pumpedHost(t)
	c, oldTap := startController(t, h)
	defer c.Stop()

	if err := c.SwitchDevice(context.Background(), "airpods", Policy{Wireless: true}); err != nil {
		t.Fatal(err)
	}

	if got := c.DeviceUID(); got != "airpods" {
		t.Errorf("target after switch: %q", got)
	}
	if !oldTap.Destroyed() {
		t.Error("old primary not destroyed")
	}
	live := h.LiveTaps()
	if len(live) != 1 || live[0].Desc.DeviceUID != "airpods" {
		t.Fatalf("live taps after switch: %d", len(live))
	}
	if c.xfade.Active() {
		t.Error("crossfade still active after completion")
	}
	p, s := c.xfade.Multipliers()
	if p != 1 || s != 1 {
		t.Errorf("multipliers after switch: (%f, %f)", p, s)
	}
	c.mu.Lock()
	secondary := c.secondary
	c.mu.Unlock()
	if secondary != nil {
		t.Error("secondary slot not cleared")
	}
}

// Warmup-then-fallback: a secondary that never produces samples must
// push the switch onto the destructive path, which still lands on the
// new device and clears forced silence.
func TestSwitchWarmupTimeoutFallsBackToDestructive(t *testing.T) {
	h := pumpedHost(t)
	h.SilenceDevice("airpods", true)
	c, oldTap := startController(t, h)
	defer c.Stop()

	if err := c.SwitchDevice(context.Background(), "airpods", Policy{}); err != nil {
		t.Fatal(err)
	}

	if got := c.DeviceUID(); got != "airpods" {
		t.Errorf("target after fallback: %q", got)
	}
	if c.forceSilence.Load() {
		t.Error("forced silence left set after destructive switch")
	}
	if !oldTap.Destroyed() {
		t.Error("old primary not destroyed")
	}
	live := h.LiveTaps()
	if len(live) != 1 || live[0].Desc.DeviceUID != "airpods" {
		t.Fatalf("live taps after fallback: %d", len(live))
	}
	if snap := c.Diagnostics(); snap.SilencedForced == 0 {
		t.Error("no callbacks were force-silenced during the switch")
	}
}

func TestSwitchCancelledDuringWarmup(t *testing.T) {
	h := pumpedHost(t)
	h.SilenceDevice("airpods", true)
	c, oldTap := startController(t, h)
	defer c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.SwitchDevice(ctx, "airpods", Policy{Wireless: true})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, ErrSwitchCancelled) {
		t.Fatalf("got %v, want ErrSwitchCancelled", err)
	}
	if oldTap.Destroyed() {
		t.Error("cancellation destroyed the primary")
	}
	if got := c.DeviceUID(); got != "speakers" {
		t.Errorf("target changed by cancelled switch: %q", got)
	}
	if c.forceSilence.Load() {
		t.Error("forced silence left set after cancellation")
	}
	if c.xfade.Active() {
		t.Error("crossfade state not reset after cancellation")
	}
	// The abandoned secondary must not linger.
	for _, tp := range h.Taps() {
		if tp.Desc.DeviceUID == "airpods" && !tp.Destroyed() {
			t.Error("orphaned secondary left alive")
		}
	}
}

func TestSwitchOpenFailureLeavesPreviousTarget(t *testing.T) {
	h := pumpedHost(t)
	h.FailOpen("airpods", capture.ErrCaptureCreationFailed)
	c, oldTap := startController(t, h)
	defer c.Stop()

	err := c.SwitchDevice(context.Background(), "airpods", Policy{})
	if !errors.Is(err, capture.ErrCaptureCreationFailed) {
		t.Fatalf("got %v, want capture creation failure", err)
	}
	if got := c.DeviceUID(); got != "speakers" {
		t.Errorf("target after failed switch: %q", got)
	}
	if oldTap.Destroyed() {
		t.Error("failed switch destroyed the primary")
	}
	if c.forceSilence.Load() {
		t.Error("forced silence set by failed open")
	}
}

// During the blend the two streams must be scaled by the equal-power
// pair: driving both callbacks at mid-crossfade yields outputs whose
// squared peaks sum to the unscaled output power.
func TestCrossfadeBlendLevels(t *testing.T) {
	h := testHost() // no auto-pump; callbacks driven by hand
	c, primaryTap := startController(t, h)
	defer c.Stop()

	sec, err := c.openStream("airpods", roleSecondary)
	if err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	c.secondary = sec
	c.mu.Unlock()
	secTap := h.Taps()[len(h.Taps())-1]

	c.xfade.Begin(48000) // total 2400 samples
	c.xfade.Update(crossfade.WarmupSampleThreshold)
	c.xfade.BeginCrossfading()

	// Secondary callback advances the timeline to 50%.
	secTap.Produce(1200)
	primaryTap.Produce(1200)

	pMul, sMul := c.xfade.Multipliers()
	wantP := float32(0.5) * pMul // 0.5 input × unity gain × multiplier
	wantS := float32(0.5) * sMul

	pOut := primaryTap.LastOutput()
	sOut := secTap.LastOutput()
	if len(pOut) == 0 || len(sOut) == 0 {
		t.Fatal("no output captured")
	}
	if d := pOut[len(pOut)-1] - wantP; d > 1e-3 || d < -1e-3 {
		t.Errorf("primary level: got %f, want %f", pOut[len(pOut)-1], wantP)
	}
	if d := sOut[len(sOut)-1] - wantS; d > 1e-3 || d < -1e-3 {
		t.Errorf("secondary level: got %f, want %f", sOut[len(sOut)-1], wantS)
	}

	sum := float64(pMul)*float64(pMul) + float64(sMul)*float64(sMul)
	if sum < 0.9999 || sum > 1.0001 {
		t.Errorf("equal-power violated mid-blend: %f", sum)
	}

	c.xfade.Complete()
	sec.destroy()
	c.mu.Lock()
	c.secondary = nil
	c.mu.Unlock()
}

func TestPolicyWarmupTimeout(t *testing.T) {
	if (Policy{}).warmupTimeout() != warmupTimeoutWired {
		t.Error("wired timeout")
	}
	if (Policy{Wireless: true}).warmupTimeout() != warmupTimeoutWireless {
		t.Error("wireless timeout")
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Second); err == nil {
		t.Fatal("cancelled sleep returned nil")
	}
}
