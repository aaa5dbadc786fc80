// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package bitmap

import (
	"testing"

	"github.com/sixfs/sixfs/lib/chunkio"
	"github.com/sixfs/sixfs/lib/storage"
)

func newMap(t *testing.T) *Map {
	t.Helper()
	backend := storage.NewMemory()
	if err := backend.Open(); err != nil {
		t.Fatal(err)
	}
	m := New(chunkio.New(backend, 8))
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFirstZeroOnEmptyMap(t *testing.T) {
	m := newMap(t)
	idx, err := m.FirstZero()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("first zero = %d, want 0", idx)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	m := newMap(t)
	if err := m.SetOne(5); err != nil {
		t.Fatal(err)
	}
	b, err := m.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	if !b {
		t.Fatal("expected bit 5 set")
	}
	b, err = m.Get(4)
	if err != nil {
		t.Fatal(err)
	}
	if b {
		t.Fatal("expected bit 4 clear")
	}
}

func TestFirstZeroAdvancesAcrossFullChunks(t *testing.T) {
	m := newMap(t)
	for i := uint64(0); i < 64; i++ {
		if err := m.SetOne(i); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := m.FirstZero()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 64 {
		t.Fatalf("first zero = %d, want 64", idx)
	}
}

func TestFirstZeroCandidateRewindsOnClear(t *testing.T) {
	m := newMap(t)
	m.SetOne(0)
	m.SetOne(1)
	idx, _ := m.FirstZero()
	if idx != 2 {
		t.Fatalf("first zero = %d, want 2", idx)
	}
	m.SetZero(0)
	idx, err := m.FirstZero()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("first zero after clearing bit 0 = %d, want 0", idx)
	}
}

func TestSyncShrinksTrailingEmptyChunks(t *testing.T) {
	m := newMap(t)
	// Force allocation of a second bit chunk by touching an index in it.
	if err := m.SetOne(64); err != nil {
		t.Fatal(err)
	}
	if err := m.SetZero(64); err != nil {
		t.Fatal(err)
	}
	if err := m.Sync(); err != nil {
		t.Fatal(err)
	}
	if got := m.StorageSizeInBytes(); got != 8 {
		t.Fatalf("storage size after shrink = %d, want 8 (one chunk)", got)
	}
}
