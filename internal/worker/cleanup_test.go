package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockCleaner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockCleaner) Cleanup(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return 4, m.err
}

func (m *mockCleaner) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCleanupWorker_DoesNotRunOnStart(t *testing.T) {
	c := &mockCleaner{}
	w := NewCleanupWorker(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if n := c.getCalls(); n != 0 {
		t.Errorf("Expected no cleanup before the first tick, got %d", n)
	}
}

func TestCleanupWorker_ContinuesAfterError(t *testing.T) {
	c := &mockCleaner{err: errors.New("database is locked")}
	w := NewCleanupWorker(c, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if !waitFor(t, time.Second, func() bool { return c.getCalls() >= 3 }) {
		t.Errorf("Expected cleanup to keep running after errors, got %d calls", c.getCalls())
	}
}

func TestBackupWorker_RunsImmediatelyAndOnSchedule(t *testing.T) {
	b := &mockBackup{err: errors.New("upload failed")}
	w := NewBackupWorker(b, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if !waitFor(t, 500*time.Millisecond, func() bool { return b.getCalls() >= 1 }) {
		t.Error("Expected backup on start")
	}
	if !waitFor(t, time.Second, func() bool { return b.getCalls() >= 3 }) {
		t.Errorf("Expected backups to continue after failures, got %d", b.getCalls())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
