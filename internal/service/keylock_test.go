package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	locks := NewLocks()

	unlock := locks.Lock("signal:a")
	acquired := make(chan struct{})
	go func() {
		second := locks.Lock("signal:a")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the key while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key after release")
	}
}

func TestLockUnlockIsIdempotent(t *testing.T) {
	locks := NewLocks()

	unlock := locks.Lock("signal:a")
	unlock()
	// A second call must not panic or unlock on behalf of a new holder.
	assert.NotPanics(t, unlock)

	again := locks.Lock("signal:a")
	assert.NotPanics(t, unlock, "a stale release does not touch the new holder")

	relocked := make(chan struct{})
	go func() {
		inner := locks.Lock("signal:a")
		inner()
		close(relocked)
	}()
	select {
	case <-relocked:
		t.Fatal("stale release freed the key out from under its holder")
	case <-time.After(50 * time.Millisecond):
	}

	again()
	select {
	case <-relocked:
	case <-time.After(time.Second):
		t.Fatal("key never became available after the real release")
	}
}
