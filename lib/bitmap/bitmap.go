// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package bitmap implements the free-space bitmap that tracks which
// chunks of an object space's data storage are occupied. Bits are
// packed 64 to a chunk and the bitmap keeps exactly one chunk resident
// at a time, flushing it to the backing [chunkio.Chunked] whenever a
// different chunk needs to become current (spec §4.2).
package bitmap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/sixfs/sixfs/lib/chunkio"
	"github.com/sixfs/sixfs/lib/emergency"
)

const bitsPerChunk = 64

// Map is a resident-chunk-cached free-space bitmap. Every method takes
// the Map's own mutex, so calls are serialized against each other.
type Map struct {
	mu sync.Mutex

	storage *chunkio.Chunked

	bitChunksInStorage     uint64
	currentBitChunk        uint64
	currentBitChunkIndex   uint64
	currentBitChunkValid   bool
	currentBitChunkDirty   bool
	firstZeroCandidate     uint64
}

// New creates a Map backed by storage, which must address 8-byte
// chunks (one uint64 of bits each).
func New(storage *chunkio.Chunked) *Map {
	return &Map{storage: storage}
}

// Initialize loads the first bitmap chunk, creating storage with a
// single all-zero chunk if it is currently empty. Must be called
// before any other method, and is not itself safe for concurrent use.
func (m *Map) Initialize() error {
	count, err := m.storage.Size()
	if err != nil {
		return fmt.Errorf("bitmap: initialize: %w", err)
	}
	m.bitChunksInStorage = count
	if m.bitChunksInStorage == 0 {
		m.currentBitChunk = 0
		m.bitChunksInStorage = 1
		if err := m.storage.SetSize(m.bitChunksInStorage); err != nil {
			return fmt.Errorf("bitmap: initialize: allocating first chunk: %w", err)
		}
	} else {
		if err := m.readChunk(0, &m.currentBitChunk); err != nil {
			return fmt.Errorf("bitmap: initialize: reading first chunk: %w", err)
		}
	}
	m.currentBitChunkIndex = 0
	m.currentBitChunkValid = true
	return nil
}

func toBitChunkIndex(index uint64) uint64 { return index / bitsPerChunk }
func toBitIndex(index uint64) uint64      { return index % bitsPerChunk }

func (m *Map) readChunk(index uint64, out *uint64) error {
	var buf [8]byte
	if err := m.storage.Read(index, buf[:]); err != nil {
		return err
	}
	*out = leUint64(buf[:])
	return nil
}

func (m *Map) writeChunk(index uint64, v uint64) error {
	var buf [8]byte
	putLeUint64(buf[:], v)
	return m.storage.Write(index, buf[:])
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// setCurrentBitChunkIndex flushes the resident chunk if dirty and
// loads bitChunkIndex as the new resident chunk, growing storage if
// the index has never been allocated before.
func (m *Map) setCurrentBitChunkIndex(bitChunkIndex uint64) error {
	if m.currentBitChunkValid && bitChunkIndex == m.currentBitChunkIndex {
		return nil
	}
	if err := m.syncLocked(); err != nil {
		return err
	}
	if bitChunkIndex >= m.bitChunksInStorage {
		m.currentBitChunk = 0
		m.bitChunksInStorage = bitChunkIndex + 1
		if err := m.storage.SetSize(m.bitChunksInStorage); err != nil {
			return fmt.Errorf("bitmap: growing to bit chunk %d: %w", bitChunkIndex, err)
		}
	} else {
		if err := m.readChunk(bitChunkIndex, &m.currentBitChunk); err != nil {
			return fmt.Errorf("bitmap: loading bit chunk %d: %w", bitChunkIndex, err)
		}
	}
	m.currentBitChunkIndex = bitChunkIndex
	m.currentBitChunkValid = true
	return nil
}

// FirstZero scans forward from the last hint and returns the index of
// the first unset bit, without setting it. Callers that mean to
// occupy the slot must follow up with SetOne.
func (m *Map) FirstZero() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bitChunkIndex := toBitChunkIndex(m.firstZeroCandidate)
	for {
		if err := m.setCurrentBitChunkIndex(bitChunkIndex); err != nil {
			return 0, fmt.Errorf("bitmap: first zero: %w", err)
		}
		if ^m.currentBitChunk != 0 {
			bitIndex := uint64(bits.TrailingZeros64(^m.currentBitChunk))
			m.firstZeroCandidate = bitChunkIndex*bitsPerChunk + bitIndex
			return m.firstZeroCandidate, nil
		}
		bitChunkIndex++
	}
}

// Set assigns the bit at index.
func (m *Map) Set(index uint64, b bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(index, b)
}

func (m *Map) setLocked(index uint64, b bool) error {
	if err := m.setCurrentBitChunkIndex(toBitChunkIndex(index)); err != nil {
		return fmt.Errorf("bitmap: set(%d, %v): %w", index, b, err)
	}
	previous := m.currentBitChunk
	mask := uint64(1) << toBitIndex(index)
	if b {
		m.currentBitChunk |= mask
		if index == m.firstZeroCandidate {
			m.firstZeroCandidate++
		}
	} else {
		m.currentBitChunk &^= mask
		if index < m.firstZeroCandidate {
			m.firstZeroCandidate = index
		}
	}
	m.currentBitChunkDirty = previous != m.currentBitChunk
	return nil
}

// SetZero clears the bit at index.
func (m *Map) SetZero(index uint64) error { return m.Set(index, false) }

// SetOne sets the bit at index.
func (m *Map) SetOne(index uint64) error { return m.Set(index, true) }

// Get reports whether the bit at index is set.
func (m *Map) Get(index uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setCurrentBitChunkIndex(toBitChunkIndex(index)); err != nil {
		return false, fmt.Errorf("bitmap: get(%d): %w", index, err)
	}
	mask := uint64(1) << toBitIndex(index)
	return m.currentBitChunk&mask != 0, nil
}

// Sync flushes the resident chunk to storage if modified, and shrinks
// storage when the resident chunk is the last one and empty, dropping
// it and the run of empty chunks directly before it (down to a floor
// of one chunk).
func (m *Map) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncLocked()
}

func (m *Map) syncLocked() error {
	if !m.currentBitChunkValid {
		return nil
	}
	if m.currentBitChunkIndex >= m.bitChunksInStorage {
		emergency.Trip(emergency.Bug)
		return fmt.Errorf("bitmap: sync: resident chunk index %d out of range (storage has %d)", m.currentBitChunkIndex, m.bitChunksInStorage)
	}

	if m.currentBitChunk == 0 && m.currentBitChunkIndex > 0 && m.currentBitChunkIndex+1 == m.bitChunksInStorage {
		// Resident chunk is the last one and is empty: drop it and
		// every empty chunk before it, keeping at least one chunk.
		m.bitChunksInStorage--
		for m.currentBitChunkIndex > 0 {
			m.currentBitChunkIndex--
			if err := m.readChunk(m.currentBitChunkIndex, &m.currentBitChunk); err != nil {
				return fmt.Errorf("bitmap: sync: scanning for trailing empty chunks: %w", err)
			}
			if m.currentBitChunk != 0 {
				break
			}
			if m.currentBitChunkIndex == 0 {
				break
			}
			m.bitChunksInStorage--
		}
		if err := m.storage.SetSize(m.bitChunksInStorage); err != nil {
			return fmt.Errorf("bitmap: sync: shrinking storage to %d chunks: %w", m.bitChunksInStorage, err)
		}
	} else if m.currentBitChunkDirty {
		if err := m.writeChunk(m.currentBitChunkIndex, m.currentBitChunk); err != nil {
			return fmt.Errorf("bitmap: sync: writing chunk %d: %w", m.currentBitChunkIndex, err)
		}
	}

	m.currentBitChunkDirty = false
	return nil
}

// StorageSizeInBytes reports the bitmap's own storage footprint.
func (m *Map) StorageSizeInBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitChunksInStorage * m.storage.ChunkSize()
}
