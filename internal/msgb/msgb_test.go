package msgb

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(0, 64); err == nil {
		t.Error("Expected error for zero capacity")
	}
	if _, err := NewPool(4, 0); err == nil {
		t.Error("Expected error for zero buffer size")
	}
}

func TestAllocPutPush(t *testing.T) {
	pool, err := NewPool(2, 32)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	msg, err := pool.Alloc(4, "test")
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if msg.Headroom() != 4 || msg.Len() != 0 {
		t.Fatalf("Expected headroom 4 and empty data, got %d/%d", msg.Headroom(), msg.Len())
	}

	if err := msg.Append([]byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	hdr, err := msg.Push(2)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	hdr[0], hdr[1] = 0x01, 0x02

	if !bytes.Equal(msg.Bytes(), []byte{0x01, 0x02, 0xaa, 0xbb}) {
		t.Errorf("Unexpected data % x", msg.Bytes())
	}

	pulled, err := msg.Pull(2)
	if err != nil || !bytes.Equal(pulled, []byte{0x01, 0x02}) {
		t.Errorf("Pull returned % x, %v", pulled, err)
	}

	if _, err := msg.Push(10); !errors.Is(err, ErrNoRoom) {
		t.Errorf("Expected ErrNoRoom on push, got %v", err)
	}
	if _, err := msg.Put(100); !errors.Is(err, ErrNoRoom) {
		t.Errorf("Expected ErrNoRoom on put, got %v", err)
	}
	if _, err := msg.Pull(10); !errors.Is(err, ErrNoRoom) {
		t.Errorf("Expected ErrNoRoom on pull, got %v", err)
	}
}

func TestPoolExhaustion(t *testing.T) {
	pool, _ := NewPool(2, 16)

	a, err := pool.Alloc(0, "a")
	if err != nil {
		t.Fatalf("Alloc a failed: %v", err)
	}
	if _, err := pool.Alloc(0, "b"); err != nil {
		t.Fatalf("Alloc b failed: %v", err)
	}

	if _, err := pool.Alloc(0, "c"); !errors.Is(err, ErrOutOfBuffers) {
		t.Fatalf("Expected ErrOutOfBuffers, got %v", err)
	}

	if err := a.Free(); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if _, err := pool.Alloc(0, "c"); err != nil {
		t.Errorf("Expected alloc to succeed after free, got %v", err)
	}

	stats := pool.Stats()
	if stats.AllocFailures != 1 || stats.Allocations != 3 || stats.InUse != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDoubleFree(t *testing.T) {
	pool, _ := NewPool(1, 16)
	msg, _ := pool.FromBytes([]byte{1, 2, 3}, "dup")

	if err := msg.Free(); err != nil {
		t.Fatalf("First free failed: %v", err)
	}
	if err := msg.Free(); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("Expected ErrDoubleFree, got %v", err)
	}
	if !msg.Freed() {
		t.Error("Expected message to report freed")
	}
	if pool.InUse() != 0 {
		t.Errorf("Expected 0 buffers in use, got %d", pool.InUse())
	}
	if pool.Stats().DoubleFrees != 1 {
		t.Errorf("Expected 1 double free, got %d", pool.Stats().DoubleFrees)
	}
}

func TestFromBytesTooLarge(t *testing.T) {
	pool, _ := NewPool(1, 4)
	if _, err := pool.FromBytes(make([]byte, 5), "big"); !errors.Is(err, ErrNoRoom) {
		t.Errorf("Expected ErrNoRoom, got %v", err)
	}
	if pool.InUse() != 0 {
		t.Errorf("Expected nothing in use, got %d", pool.InUse())
	}
}

func TestReusedBufferIsCleared(t *testing.T) {
	pool, _ := NewPool(1, 8)
	msg, _ := pool.FromBytes([]byte{9, 9, 9, 9}, "first")
	msg.Free()

	msg, _ = pool.Alloc(0, "second")
	b, _ := msg.Put(4)
	if !bytes.Equal(b, []byte{0, 0, 0, 0}) {
		t.Errorf("Expected zeroed bytes, got % x", b)
	}
}
