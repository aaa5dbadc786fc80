// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// File is a Backend over a plain file descriptor, using pread/pwrite
// loops that tolerate short I/O rather than a memory mapping.
type File struct {
	path string
	fd   int
}

// NewFile creates a File backend for the container at path. The file
// is created on first Open if it does not exist.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Open() error {
	fd, err := unix.Open(f.path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return fmt.Errorf("storage: opening %s: %w", f.path, err)
	}
	f.fd = fd
	return nil
}

func (f *File) Close() error {
	if f.fd == 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = 0
	if err != nil {
		return fmt.Errorf("storage: closing %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Stat() (maxBytes, availBytes uint64, err error) {
	var buf unix.Statfs_t
	if err := unix.Statfs(f.path, &buf); err != nil {
		return 0, 0, fmt.Errorf("storage: statfs %s: %w", f.path, err)
	}
	maxBytes = uint64(buf.Blocks) * uint64(buf.Bsize)
	availBytes = uint64(buf.Bavail) * uint64(buf.Bsize)
	return maxBytes, availBytes, nil
}

func (f *File) SizeBytes() (uint64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(f.fd, &stat); err != nil {
		return 0, fmt.Errorf("storage: fstat %s: %w", f.path, err)
	}
	return uint64(stat.Size), nil
}

func (f *File) ReadBytes(offset uint64, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Pread(f.fd, buf, int64(offset))
		if err != nil {
			return fmt.Errorf("storage: pread %s at %d: %w", f.path, offset, err)
		}
		if n == 0 {
			return fmt.Errorf("storage: pread %s at %d: unexpected EOF", f.path, offset)
		}
		buf = buf[n:]
		offset += uint64(n)
	}
	return nil
}

func (f *File) WriteBytes(offset uint64, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(f.fd, buf, int64(offset))
		if err != nil {
			return fmt.Errorf("storage: pwrite %s at %d: %w", f.path, offset, err)
		}
		buf = buf[n:]
		offset += uint64(n)
	}
	return nil
}

// PunchHoleBytes asks the filesystem to deallocate the given range
// while keeping the file's logical size unchanged. Not every
// filesystem supports FALLOC_FL_PUNCH_HOLE; failure is swallowed
// because the container's structure stays valid either way (spec
// §4.3: "best-effort; punch-hole failures are logged but not fatal").
func (f *File) PunchHoleBytes(offset, length uint64) error {
	_ = unix.Fallocate(f.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(offset), int64(length))
	return nil
}

func (f *File) SetSizeBytes(length uint64) error {
	if err := unix.Ftruncate(f.fd, int64(length)); err != nil {
		return fmt.Errorf("storage: ftruncate %s to %d: %w", f.path, length, err)
	}
	return nil
}
