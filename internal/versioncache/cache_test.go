package versioncache

import (
	"fmt"
	"testing"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New()
	if _, ok := c.Get("backend1"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set("backend1", 77)
	v, ok := c.Get("backend1")
	if !ok || v != 77 {
		t.Fatalf("expected (77, true), got (%d, %v)", v, ok)
	}
}

func TestSetUpdatesInPlace(t *testing.T) {
	c := New()
	c.Set("backend1", 75)
	c.Set("backend1", 77)
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after update, got %d", c.Len())
	}
	v, _ := c.Get("backend1")
	if v != 77 {
		t.Fatalf("expected updated version 77, got %d", v)
	}
}

func TestBoundedEviction(t *testing.T) {
	c := New()
	const n = 64
	for i := 0; i < n; i++ {
		c.Set(fmt.Sprintf("host-%d", i), 77)
	}
	if c.Len() != capacity {
		t.Fatalf("expected cache size %d, got %d", capacity, c.Len())
	}
	evicted := 0
	for i := 0; i < n; i++ {
		if _, ok := c.Get(fmt.Sprintf("host-%d", i)); !ok {
			evicted++
		}
	}
	if evicted == 0 {
		t.Fatalf("expected at least one of %d inserted hosts to have been evicted", n)
	}
}
