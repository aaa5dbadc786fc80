// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkmgr implements the ChunkManager: a free-space bitmap
// paired with chunk-indexed data storage, offering add/remove/read/
// write over whole chunks with rollback on partial failure (spec
// §4.3). Each of the three object spaces (inode, dirent, block) is
// backed by its own ChunkManager.
package chunkmgr

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sixfs/sixfs/lib/bitmap"
	"github.com/sixfs/sixfs/lib/chunkio"
	"github.com/sixfs/sixfs/lib/emergency"
)

// ChunkManager combines a [bitmap.Map] with chunk-indexed data
// storage. Add/Remove serialize against each other and against
// Read/Write via an RWMutex: reads and writes can run concurrently
// with each other, but not with allocation changes.
type ChunkManager struct {
	mu sync.RWMutex

	bitmap                   *bitmap.Map
	chunks                   *chunkio.Chunked
	punchHolesForEmptyChunks bool
	chunksInStorage          uint64
}

// New creates a ChunkManager over bm (the space's free-space bitmap)
// and chunks (the space's chunk-indexed data storage). When
// punchHolesForEmptyChunks is true, Remove best-effort punches a hole
// for chunks freed in the middle of storage rather than leaving dead
// bytes behind.
func New(bm *bitmap.Map, chunks *chunkio.Chunked, punchHolesForEmptyChunks bool) *ChunkManager {
	return &ChunkManager{
		bitmap:                   bm,
		chunks:                   chunks,
		punchHolesForEmptyChunks: punchHolesForEmptyChunks,
	}
}

// Initialize loads the bitmap and the current chunk count. Must be
// called once before any other method, and is not itself safe for
// concurrent use.
func (c *ChunkManager) Initialize() error {
	if err := c.bitmap.Initialize(); err != nil {
		return fmt.Errorf("chunkmgr: initialize: %w", err)
	}
	count, err := c.chunks.Size()
	if err != nil {
		return fmt.Errorf("chunkmgr: initialize: %w", err)
	}
	c.chunksInStorage = count
	return nil
}

// ChunksInStorage reports how many chunks the data storage currently
// holds (occupied and free).
func (c *ChunkManager) ChunksInStorage() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunksInStorage
}

// ChunkSize returns the fixed chunk size in bytes.
func (c *ChunkManager) ChunkSize() uint64 {
	return c.chunks.ChunkSize()
}

// Add allocates the first free chunk, writes buf into it, and returns
// its index. On any failure partway through, Add rolls the bitmap and
// storage size back to their state before the call.
func (c *ChunkManager) Add(buf []byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.bitmap.FirstZero()
	if err != nil {
		return 0, fmt.Errorf("chunkmgr: add: %w", err)
	}
	if err := c.bitmap.SetOne(index); err != nil {
		return 0, fmt.Errorf("chunkmgr: add: %w", err)
	}

	grew := false
	if index >= c.chunksInStorage {
		previousChunks := c.chunksInStorage
		c.chunksInStorage = index + 1
		if err := c.chunks.SetSize(c.chunksInStorage); err != nil {
			c.chunksInStorage = previousChunks
			if rerr := c.bitmap.SetZero(index); rerr != nil {
				slog.Error("chunkmgr: add: cannot recover from failed storage grow; a dead chunk remains", "index", index, "error", rerr)
				emergency.Trip(emergency.SystemFailure)
			}
			return 0, fmt.Errorf("chunkmgr: add: growing storage for chunk %d: %w", index, err)
		}
		grew = true
	}

	if err := c.chunks.Write(index, buf); err != nil {
		if rerr := c.bitmap.SetZero(index); rerr == nil && grew {
			c.chunksInStorage--
			if rerr := c.chunks.SetSize(c.chunksInStorage); rerr != nil {
				slog.Error("chunkmgr: add: cannot recover from failed chunk write; a dead chunk remains", "index", index, "error", rerr)
				emergency.Trip(emergency.SystemFailure)
			}
		} else if rerr != nil {
			slog.Error("chunkmgr: add: cannot recover from failed chunk write; a dead chunk remains", "index", index, "error", rerr)
			emergency.Trip(emergency.SystemFailure)
		}
		return 0, fmt.Errorf("chunkmgr: add: writing chunk %d: %w", index, err)
	}

	return index, nil
}

// Remove frees the chunk at index. If index is the last chunk in
// storage, Remove also shrinks storage past it and any other
// now-trailing empty chunks; otherwise it best-effort punches a hole
// for the freed chunk when configured to do so.
func (c *ChunkManager) Remove(index uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= c.chunksInStorage {
		emergency.Trip(emergency.Bug)
		return fmt.Errorf("chunkmgr: remove: chunk %d out of range (storage has %d)", index, c.chunksInStorage)
	}

	if err := c.bitmap.SetZero(index); err != nil {
		return fmt.Errorf("chunkmgr: remove: %w", err)
	}

	if index+1 == c.chunksInStorage {
		c.chunksInStorage--
		for index > 0 {
			index--
			occupied, err := c.bitmap.Get(index)
			if err != nil {
				emergency.Trip(emergency.SystemFailure)
				return fmt.Errorf("chunkmgr: remove: scanning for trailing empty chunks: %w", err)
			}
			if occupied {
				break
			}
			c.chunksInStorage--
		}
		if err := c.chunks.SetSize(c.chunksInStorage); err != nil {
			emergency.Trip(emergency.SystemFailure)
			return fmt.Errorf("chunkmgr: remove: shrinking storage to %d chunks: %w", c.chunksInStorage, err)
		}
	} else if c.punchHolesForEmptyChunks {
		if err := c.chunks.PunchHole(index); err != nil {
			slog.Warn("chunkmgr: remove: punch-hole failed, ignoring", "index", index, "error", err)
		}
	}

	return nil
}

// Read reads the chunk at index into buf.
func (c *ChunkManager) Read(index uint64, buf []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= c.chunksInStorage {
		emergency.Trip(emergency.Bug)
		return fmt.Errorf("chunkmgr: read: chunk %d out of range (storage has %d)", index, c.chunksInStorage)
	}
	return c.chunks.Read(index, buf)
}

// Write writes buf into the already-allocated chunk at index.
func (c *ChunkManager) Write(index uint64, buf []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= c.chunksInStorage {
		emergency.Trip(emergency.Bug)
		return fmt.Errorf("chunkmgr: write: chunk %d out of range (storage has %d)", index, c.chunksInStorage)
	}
	return c.chunks.Write(index, buf)
}

// Sync flushes the bitmap's resident chunk to storage.
func (c *ChunkManager) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitmap.Sync()
}

// StorageSizeInBytes reports the combined footprint of the data
// storage and its bitmap.
func (c *ChunkManager) StorageSizeInBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunksInStorage*c.chunks.ChunkSize() + c.bitmap.StorageSizeInBytes()
}
