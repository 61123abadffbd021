package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestInvalidSchedule(t *testing.T) {
	r := New("not a schedule", func(context.Context) {})
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestFiresOnSchedule(t *testing.T) {
	var fired atomic.Int32
	r := New("@every 100ms", func(context.Context) {
		fired.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("refresh never fired")
	}
}

func TestCancelStopsFiring(t *testing.T) {
	var fired atomic.Int32
	r := New("@every 50ms", func(context.Context) {
		fired.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	base := fired.Load()
	time.Sleep(200 * time.Millisecond)
	if fired.Load() != base {
		t.Error("refresh kept firing after cancellation")
	}
}
