package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLifecycleRunnerDrainsOnContextCancel(t *testing.T) {
	var drained, started, stopped atomic.Int32
	r := NewLifecycleRunner(DrainerFunc(func() error {
		drained.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, time.Second)
	r.SetBannerWriter(nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return")
	}
	if drained.Load() != 1 || started.Load() != 1 || stopped.Load() != 1 {
		t.Fatalf("unexpected hook counts drained=%d started=%d stopped=%d", drained.Load(), started.Load(), stopped.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if drained.Load() != 1 {
		t.Fatalf("drain must run once")
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := NewLifecycleRunner(DrainerFunc(func() error {
		<-release
		return nil
	}), Hooks{}, 20*time.Millisecond)
	r.SetBannerWriter(nil)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestLifecycleRunnerRejectsSecondRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.SetBannerWriter(nil)
	_ = r.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)
	if err := r.Run(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("expected version line, got %q", buf.String())
	}
}
