package lock

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Verify lock file exists and contains PID.
	data, err := os.ReadFile(tmpDir + "/LOCK")
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file is empty")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Errorf("expected LockHeldError, got %T: %v", err, err)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	unlock := k.Lock("1@c.us")

	if _, ok := k.TryLock("1@c.us"); ok {
		t.Fatal("TryLock on a held key should fail")
	}
	other, ok := k.TryLock("2@c.us")
	if !ok {
		t.Fatal("TryLock on a different key should succeed")
	}
	other()

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("1@c.us")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while key was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}

func TestKeyedDropsIdleKeys(t *testing.T) {
	k := NewKeyed()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := k.Lock("same")
			u()
		}()
	}
	wg.Wait()
	if n := k.Len(); n != 0 {
		t.Errorf("Len() = %d after all releases, want 0", n)
	}
}
