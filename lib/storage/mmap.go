// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package storage

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Mmap is a Backend backed by a memory-mapped file. Reads and writes
// go directly against the mapping — no read/write syscalls on the hot
// path. The mapping length is always rounded up to the page size; the
// *logical* size is tracked separately and only crosses into a remap
// when it crosses a page boundary (spec §4.1).
//
// mmap'd regions cannot be resized in place portably, so growing or
// shrinking past the current mapping unmaps and remaps rather than
// using mremap (which Linux supports but other POSIX systems do not).
// As spec §9 notes, shrinking while a region is logically mapped does
// not zero the rounded-up tail until Close truncates the file back to
// the logical size — readers may observe stale or zero bytes in that
// tail, which is accepted behavior, not a defect.
type Mmap struct {
	path string
	fd   int

	mu       sync.RWMutex
	data     []byte // mapped region, length always a multiple of pageSize
	size     uint64 // logical size in bytes, <= len(data)
	pageSize uint64
}

// NewMmap creates an Mmap backend for the container at path.
func NewMmap(path string) *Mmap {
	return &Mmap{path: path, pageSize: uint64(unix.Getpagesize())}
}

func mapLength(pageSize, size uint64) uint64 {
	if size == 0 {
		return pageSize
	}
	if size%pageSize == 0 {
		return size
	}
	return (size/pageSize + 1) * pageSize
}

func (m *Mmap) Open() error {
	fd, err := unix.Open(m.path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return fmt.Errorf("storage: opening %s: %w", m.path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return fmt.Errorf("storage: fstat %s: %w", m.path, err)
	}

	size := uint64(stat.Size)
	length := mapLength(m.pageSize, size)
	if err := unix.Ftruncate(fd, int64(length)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("storage: truncating %s to %d: %w", m.path, length, err)
	}

	data, err := unix.Mmap(fd, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("storage: mmap %s: %w", m.path, err)
	}

	m.fd = fd
	m.data = data
	m.size = size
	return nil
}

func (m *Mmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			firstErr = fmt.Errorf("storage: munmap %s: %w", m.path, err)
		}
		m.data = nil
	}
	if m.fd != 0 {
		// Truncate back to the logical size: the mapping length was
		// rounded up to a page, and that tail should not linger on
		// disk once nothing maps it.
		if err := unix.Ftruncate(m.fd, int64(m.size)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: truncating %s to %d: %w", m.path, m.size, err)
		}
		if err := unix.Close(m.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: closing %s: %w", m.path, err)
		}
		m.fd = 0
	}
	return firstErr
}

func (m *Mmap) Stat() (maxBytes, availBytes uint64, err error) {
	var buf unix.Statfs_t
	if err := unix.Statfs(m.path, &buf); err != nil {
		return 0, 0, fmt.Errorf("storage: statfs %s: %w", m.path, err)
	}
	return uint64(buf.Blocks) * uint64(buf.Bsize), uint64(buf.Bavail) * uint64(buf.Bsize), nil
}

func (m *Mmap) SizeBytes() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size, nil
}

func (m *Mmap) ReadBytes(offset uint64, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset+uint64(len(buf)) > m.size {
		return fmt.Errorf("storage: read [%d,%d) exceeds %s size %d", offset, offset+uint64(len(buf)), m.path, m.size)
	}
	copy(buf, m.data[offset:])
	return nil
}

func (m *Mmap) WriteBytes(offset uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := offset + uint64(len(buf))
	if end > m.size {
		if err := m.setSizeLocked(end); err != nil {
			return err
		}
	}
	copy(m.data[offset:], buf)
	return nil
}

// PunchHoleBytes is a no-op: the mmap backend has no cheap way to
// deallocate storage underneath a live mapping. Matches the original
// medium's behavior (spec §9 treats this as accepted, not a defect).
func (m *Mmap) PunchHoleBytes(offset, length uint64) error {
	return nil
}

func (m *Mmap) SetSizeBytes(length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSizeLocked(length)
}

// setSizeLocked remaps the container when the new logical size
// crosses a page boundary relative to the current mapping length.
// Caller holds m.mu.
func (m *Mmap) setSizeLocked(size uint64) error {
	newLength := mapLength(m.pageSize, size)
	oldLength := uint64(len(m.data))

	if newLength != oldLength {
		if err := unix.Ftruncate(m.fd, int64(newLength)); err != nil {
			return fmt.Errorf("storage: truncating %s to %d: %w", m.path, newLength, err)
		}
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("storage: unmapping %s before remap: %w", m.path, err)
		}
		data, err := unix.Mmap(m.fd, 0, int(newLength), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			m.data = nil
			return fmt.Errorf("storage: remapping %s to %d: %w", m.path, newLength, err)
		}
		m.data = data
	}

	if size > m.size {
		// Growing: the portion between the old logical size and the
		// new one must read back as zero even though the page it
		// lives in may have been mapped before (e.g. a shrink
		// followed by a grow within the same page).
		clear(m.data[m.size:size])
	}
	m.size = size
	return nil
}
