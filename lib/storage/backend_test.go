// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package storage

import (
	"path/filepath"
	"testing"
)

func backendConstructors() map[string]func(path string) Backend {
	return map[string]func(path string) Backend{
		"file": func(path string) Backend { return NewFile(path) },
		"mmap": func(path string) Backend { return NewMmap(path) },
	}
}

func TestBackendReadWriteRoundTrip(t *testing.T) {
	for name, newBackend := range backendConstructors() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			b := newBackend(filepath.Join(dir, "container.dat"))
			if err := b.Open(); err != nil {
				t.Fatal(err)
			}
			defer b.Close()

			if err := b.SetSizeBytes(4096); err != nil {
				t.Fatal(err)
			}
			if err := b.WriteBytes(100, []byte("hello world")); err != nil {
				t.Fatal(err)
			}

			buf := make([]byte, 11)
			if err := b.ReadBytes(100, buf); err != nil {
				t.Fatal(err)
			}
			if string(buf) != "hello world" {
				t.Fatalf("got %q", buf)
			}

			size, err := b.SizeBytes()
			if err != nil {
				t.Fatal(err)
			}
			if size != 4096 {
				t.Fatalf("size = %d, want 4096", size)
			}
		})
	}
}

func TestBackendGrowZeroFills(t *testing.T) {
	for name, newBackend := range backendConstructors() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			b := newBackend(filepath.Join(dir, "container.dat"))
			if err := b.Open(); err != nil {
				t.Fatal(err)
			}
			defer b.Close()

			if err := b.WriteBytes(8192, []byte("tail")); err != nil {
				t.Fatal(err)
			}

			buf := make([]byte, 8192)
			if err := b.ReadBytes(0, buf); err != nil {
				t.Fatal(err)
			}
			for i, c := range buf {
				if c != 0 {
					t.Fatalf("byte %d = %d, want 0", i, c)
				}
			}
		})
	}
}

func TestBackendReopenPreservesSize(t *testing.T) {
	for name, newBackend := range backendConstructors() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "container.dat")

			b := newBackend(path)
			if err := b.Open(); err != nil {
				t.Fatal(err)
			}
			if err := b.SetSizeBytes(9000); err != nil {
				t.Fatal(err)
			}
			if err := b.WriteBytes(8999, []byte{0x42}); err != nil {
				t.Fatal(err)
			}
			if err := b.Close(); err != nil {
				t.Fatal(err)
			}

			b2 := newBackend(path)
			if err := b2.Open(); err != nil {
				t.Fatal(err)
			}
			defer b2.Close()

			size, err := b2.SizeBytes()
			if err != nil {
				t.Fatal(err)
			}
			if size != 9000 {
				t.Fatalf("size after reopen = %d, want 9000", size)
			}
			buf := make([]byte, 1)
			if err := b2.ReadBytes(8999, buf); err != nil {
				t.Fatal(err)
			}
			if buf[0] != 0x42 {
				t.Fatalf("byte = %d, want 0x42", buf[0])
			}
		})
	}
}
