// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package fs6core

import (
	"sync"

	"github.com/sixfs/sixfs/lib/fserrors"
)

// relatimeThresholdSeconds is the maximum age an access time is allowed to
// reach before a read forces an update, mirroring the Linux relatime
// mount option: atime is otherwise only bumped when it would
// otherwise predate mtime or ctime.
const relatimeThresholdSeconds = 24 * 3600

// Handle is a live, reference-counted view onto one inode: its
// cached metadata, the four levels of indirection-block caching used
// to walk its slot tree, and open-mode flags (spec §4.5-4.6).
//
// A Handle's leaf values address dirents for a directory inode or
// blocks for every other inode type; slotToTreeIndices and the slot
// accessors are agnostic to which, so the same tree-walking code
// serves both files and directories.
type Handle struct {
	base       *Base
	inodeIndex uint64
	inode      Inode

	mu sync.RWMutex

	readOnly         bool
	append           bool
	refCount         int
	removeOnceUnused bool

	cachedBlockIndices  [4]uint64
	cachedBlocks        [4]Block
	cachedBlockValid    [4]bool
	cachedBlockModified [4]bool
}

func newHandle(base *Base, inodeIndex uint64, inode Inode) *Handle {
	h := &Handle{base: base, inodeIndex: inodeIndex, inode: inode}
	for i := range h.cachedBlockIndices {
		h.cachedBlockIndices[i] = InvalidIndex
	}
	return h
}

// InodeIndex returns the inode number this handle refers to.
func (h *Handle) InodeIndex() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inodeIndex
}

// Inode returns a copy of the handle's current in-memory inode.
func (h *Handle) Inode() Inode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inode
}

// RefCount returns the handle's current reference count.
func (h *Handle) RefCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refCount
}

// SlotCount reports how many slots this inode currently uses (see the
// unexported slotCount for the precise definition).
func (h *Handle) SlotCount() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slotCount()
}

// TouchAndPersist bumps mtime and ctime to now and writes the inode
// record. Used by directory-structure callers (rename) that mutate a
// directory's contents through Base directly rather than through a
// Handle method that already does this bookkeeping.
func (h *Handle) TouchAndPersist() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	return h.persist()
}

// RemoveOnceUnused reports whether the inode's link count has reached
// zero while the handle was still open, meaning it will be deleted
// once the last reference releases.
func (h *Handle) RemoveOnceUnused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.removeOnceUnused
}

// --- indirection block cache ---

func (h *Handle) cacheBlock(level int, blockIndex uint64) (*Block, error) {
	if h.cachedBlockValid[level] && h.cachedBlockIndices[level] == blockIndex {
		return &h.cachedBlocks[level], nil
	}
	if err := h.flushCachedBlock(level); err != nil {
		return nil, err
	}
	blk, err := h.base.BlockRead(blockIndex)
	if err != nil {
		return nil, err
	}
	h.cachedBlocks[level] = blk
	h.cachedBlockIndices[level] = blockIndex
	h.cachedBlockValid[level] = true
	h.cachedBlockModified[level] = false
	return &h.cachedBlocks[level], nil
}

func (h *Handle) flushCachedBlock(level int) error {
	if !h.cachedBlockValid[level] || !h.cachedBlockModified[level] {
		return nil
	}
	if err := h.base.BlockWrite(h.cachedBlockIndices[level], &h.cachedBlocks[level]); err != nil {
		return err
	}
	h.cachedBlockModified[level] = false
	return nil
}

// flushCachedBlocks writes back every modified cached indirection
// block. Called before releasing the handle.
func (h *Handle) flushCachedBlocks() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for level := range h.cachedBlocks {
		if err := h.flushCachedBlock(level); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) allocateIndirectionBlock() (uint64, error) {
	blk := NewIndirectionBlock()
	return h.base.BlockAdd(&blk)
}

// --- slot tree ---

// slotCount reports how many slots this inode currently uses: the
// number of dirent slots for a directory, or the number of blocks
// needed to hold its current byte size for anything else. A symlink's
// size is its target length, so a non-empty target counts as its one
// direct tree-0 slot.
func (h *Handle) slotCount() uint64 {
	if h.inode.IsDir() {
		return h.inode.Size
	}
	return (h.inode.Size + BlockSize - 1) / BlockSize
}

func (h *Handle) getSlot(slot uint64) (uint64, error) {
	tree, ijkl := slotToTreeIndices(slot)
	if tree == 0 {
		return h.inode.SlotTrees[0], nil
	}
	root := h.inode.SlotTrees[tree]
	if root == InvalidIndex {
		return InvalidIndex, nil
	}
	idx := root
	for level := 0; level < tree-1; level++ {
		blk, err := h.cacheBlock(level, idx)
		if err != nil {
			return 0, err
		}
		indices := BlockIndices(blk)
		idx = indices[ijkl[level]]
		if idx == InvalidIndex {
			return InvalidIndex, nil
		}
	}
	blk, err := h.cacheBlock(tree-1, idx)
	if err != nil {
		return 0, err
	}
	indices := BlockIndices(blk)
	return indices[ijkl[tree-1]], nil
}

func (h *Handle) setSlot(slot uint64, value uint64) error {
	tree, ijkl := slotToTreeIndices(slot)
	if tree == 0 {
		h.inode.SlotTrees[0] = value
		return nil
	}

	root := h.inode.SlotTrees[tree]
	if root == InvalidIndex {
		newRoot, err := h.allocateIndirectionBlock()
		if err != nil {
			return err
		}
		root = newRoot
		h.inode.SlotTrees[tree] = root
	}

	idx := root
	for level := 0; level < tree-1; level++ {
		blk, err := h.cacheBlock(level, idx)
		if err != nil {
			return err
		}
		indices := BlockIndices(blk)
		next := indices[ijkl[level]]
		if next == InvalidIndex {
			newIndex, err := h.allocateIndirectionBlock()
			if err != nil {
				return err
			}
			indices[ijkl[level]] = newIndex
			SetBlockIndices(blk, indices)
			h.cachedBlockModified[level] = true
			next = newIndex
		}
		idx = next
	}

	blk, err := h.cacheBlock(tree-1, idx)
	if err != nil {
		return err
	}
	indices := BlockIndices(blk)
	indices[ijkl[tree-1]] = value
	allInvalid := value == InvalidIndex
	for j := 0; allInvalid && j < N; j++ {
		if indices[j] != InvalidIndex {
			allInvalid = false
		}
	}
	SetBlockIndices(blk, indices)

	if !allInvalid {
		h.cachedBlockModified[tree-1] = true
		return nil
	}

	// The indirection block the leaf just went invalid in is now
	// entirely empty: free it, clear its parent's pointer, and
	// repeat the all-invalid check one level up. The cascade stops
	// at the first level that still has a live entry, or clears the
	// tree root if it reaches all the way up.
	for ll := tree - 1; allInvalid && ll >= 0; ll-- {
		if err := h.base.BlockRemove(h.cachedBlockIndices[ll]); err != nil {
			return err
		}
		h.cachedBlockIndices[ll] = InvalidIndex
		h.cachedBlockValid[ll] = false
		h.cachedBlockModified[ll] = false

		if ll > 0 {
			parentIndices := BlockIndices(&h.cachedBlocks[ll-1])
			parentIndices[ijkl[ll-1]] = InvalidIndex
			SetBlockIndices(&h.cachedBlocks[ll-1], parentIndices)

			allInvalid = true
			for j := 0; allInvalid && j < N; j++ {
				if parentIndices[j] != InvalidIndex {
					allInvalid = false
				}
			}
			if !allInvalid {
				if err := h.base.BlockWrite(h.cachedBlockIndices[ll-1], &h.cachedBlocks[ll-1]); err != nil {
					return err
				}
			}
		} else {
			h.inode.SlotTrees[tree] = InvalidIndex
		}
	}
	return nil
}

// insertSlot makes room for a new slot at position slot, shifting any
// existing slots at or beyond it one place to the right, and writes
// value there. slot == slotCount() is the degenerate append case: the
// shift loop runs zero times.
func (h *Handle) insertSlot(slot uint64, value uint64) error {
	count := h.slotCount()
	if slot > count {
		return fserrors.NotRecoverable("insertSlot", "")
	}
	if count == MaxSlotCount {
		return fserrors.NoSpace("insertSlot", "")
	}

	if h.inode.IsDir() {
		h.inode.Size++
	}
	newCount := h.slotCount()
	for i := newCount - 1; i > slot; i-- {
		tmp, err := h.getSlot(i - 1)
		if err != nil {
			return err
		}
		if err := h.setSlot(i, tmp); err != nil {
			return err
		}
	}
	return h.setSlot(slot, value)
}

// freeLeaf frees the record a slot's leaf value addresses in the right
// object space: a dirent for a directory, a block for anything else.
func (h *Handle) freeLeaf(index uint64) error {
	if h.inode.IsDir() {
		return h.base.DirentRemove(index)
	}
	return h.base.BlockRemove(index)
}

// removeSlot frees the slot at position slot, shifting every
// following slot one place to the left to keep the tree dense, then
// clearing the now-vacated last slot. When freeUnderlying is true,
// the leaf value being removed is also freed from its object space
// (the dirent or block it addressed); callers that are only
// relocating the value elsewhere (rename) pass false.
func (h *Handle) removeSlot(slot uint64, freeUnderlying bool) error {
	count := h.slotCount()
	if slot >= count {
		return fserrors.NotRecoverable("removeSlot", "")
	}

	leafValue := InvalidIndex
	if freeUnderlying {
		v, err := h.getSlot(slot)
		if err != nil {
			return err
		}
		leafValue = v
	}

	for i := slot; i < count-1; i++ {
		tmp, err := h.getSlot(i + 1)
		if err != nil {
			return err
		}
		if err := h.setSlot(i, tmp); err != nil {
			return err
		}
	}
	if err := h.setSlot(count-1, InvalidIndex); err != nil {
		return err
	}

	if freeUnderlying && leafValue != InvalidIndex {
		if err := h.freeLeaf(leafValue); err != nil {
			return err
		}
	}

	if h.inode.IsDir() {
		h.inode.Size--
	}
	return nil
}

// --- metadata ---

func (h *Handle) touchCtime() {
	h.inode.Ctime = h.base.now()
}

func (h *Handle) persist() error {
	return h.base.InodeWrite(h.inodeIndex, &h.inode)
}

// updateATime applies the relatime rule: atime is bumped only when it
// already predates mtime or ctime, or has gone stale by more than a
// day. Returns true if atime changed (caller must persist).
func (h *Handle) updateATime() bool {
	now := h.base.now()
	a := h.inode.Atime
	if a.IsOlderThan(h.inode.Mtime) || a.IsOlderThan(h.inode.Ctime) || now.Seconds-a.Seconds >= relatimeThresholdSeconds {
		h.inode.Atime = now
		return true
	}
	return false
}

// GetAttr returns the inode index and a copy of the current inode.
func (h *Handle) GetAttr() (uint64, Inode) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inodeIndex, h.inode
}

// Link increments the inode's hard-link count.
func (h *Handle) Link() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inode.Nlink++
	h.touchCtime()
	return h.persist()
}

// Remove decrements the inode's hard-link count. If it reaches zero,
// the handle is marked for deletion once its last reference releases.
func (h *Handle) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inode.Nlink--
	h.touchCtime()
	if h.inode.Nlink == 0 {
		h.removeOnceUnused = true
	}
	return h.persist()
}

// ForceRemove unconditionally marks the inode for deletion once its
// last reference releases, bypassing the normal link-count decrement.
// rmdir uses this rather than Remove: directories don't carry literal
// "." and ".." dirent entries in this layout, so their link count
// never reaches zero through ordinary bookkeeping.
func (h *Handle) ForceRemove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inode.Nlink = 0
	h.removeOnceUnused = true
	h.touchCtime()
	return h.persist()
}

// Chmod updates the permission bits, preserving the file type bits.
func (h *Handle) Chmod(mode uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inode.TypeAndMode = h.inode.Type() | (mode &^ TypeMask)
	h.touchCtime()
	return h.persist()
}

// Chown updates the owning uid/gid. A value of ^uint32(0) leaves that
// field unchanged, matching the chown(2) convention for -1.
func (h *Handle) Chown(uid, gid uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if uid != ^uint32(0) {
		h.inode.UID = uid
	}
	if gid != ^uint32(0) {
		h.inode.GID = gid
	}
	h.touchCtime()
	return h.persist()
}

// Utimens sets the access, modification, and/or change times
// explicitly, for the subset of flags that are true.
func (h *Handle) Utimens(updateAtime bool, atime Time, updateMtime bool, mtime Time, updateCtime bool, ctime Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if updateAtime {
		h.inode.Atime = atime
	}
	if updateMtime {
		h.inode.Mtime = mtime
	}
	if updateCtime {
		h.inode.Ctime = ctime
	} else {
		h.touchCtime()
	}
	return h.persist()
}

// Truncate resizes file content to length, freeing trailing blocks
// when shrinking and leaving newly exposed bytes as a sparse hole
// when growing.
func (h *Handle) Truncate(length uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.truncateNow(length)
}

func (h *Handle) truncateNow(length uint64) error {
	if h.inode.IsDir() {
		return fserrors.IsDir("truncate", "")
	}
	if length < h.inode.Size {
		newBlockCount := (length + BlockSize - 1) / BlockSize
		oldBlockCount := h.slotCount()
		for oldBlockCount > newBlockCount {
			if err := h.removeSlot(oldBlockCount-1, true); err != nil {
				return err
			}
			oldBlockCount--
		}
		if length%BlockSize != 0 && newBlockCount > 0 {
			blockIndex, err := h.getSlot(newBlockCount - 1)
			if err != nil {
				return err
			}
			if blockIndex != InvalidIndex {
				blk, err := h.base.BlockRead(blockIndex)
				if err != nil {
					return err
				}
				clear(blk[length%BlockSize:])
				if err := h.base.BlockWrite(blockIndex, &blk); err != nil {
					return err
				}
			}
		}
	}
	h.inode.Size = length
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	return h.persist()
}

// removeNow frees every block or dirent this inode's slot tree
// references, the symlink target block if any, and finally the inode
// record itself. Called once, from HandleRelease, when the last
// reference drops and the link count has reached zero.
func (h *Handle) removeNow() error {
	count := h.slotCount()
	for count > 0 {
		if err := h.removeSlot(count-1, true); err != nil {
			return err
		}
		count--
	}
	if h.inode.Type() == TypeLNK && h.inode.SlotTrees[0] != InvalidIndex {
		if err := h.base.BlockRemove(h.inode.SlotTrees[0]); err != nil {
			return err
		}
	}
	return h.base.InodeRemove(h.inodeIndex)
}

// --- open file I/O ---

// Open marks the handle as in-use for file content I/O with the given
// mode flags. trunc immediately truncates content to zero length.
func (h *Handle) Open(readOnly, trunc, appendMode bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inode.IsDir() {
		return fserrors.IsDir("open", "")
	}
	h.readOnly = readOnly
	h.append = appendMode
	if trunc && !readOnly {
		return h.truncateNow(0)
	}
	return nil
}

// OpenDir marks the handle as in-use for directory listing.
func (h *Handle) OpenDir() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.inode.IsDir() {
		return fserrors.NotDir("opendir", "")
	}
	return nil
}

// Read reads up to len(buf) bytes starting at offset, zero-filling any
// sparse holes. It returns the number of bytes read, which is less
// than len(buf) only at end of file.
func (h *Handle) Read(offset uint64, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.inode.Size
	if offset >= size {
		return 0, nil
	}
	end := offset + uint64(len(buf))
	if end > size {
		end = size
	}

	n := 0
	for pos := offset; pos < end; {
		blockSlot := pos / BlockSize
		blockOffset := pos % BlockSize
		chunkLen := minUint64(BlockSize-blockOffset, end-pos)

		blockIndex, err := h.getSlot(blockSlot)
		if err != nil {
			return n, err
		}
		if blockIndex == InvalidIndex {
			clear(buf[n : n+int(chunkLen)])
		} else {
			blk, err := h.base.BlockRead(blockIndex)
			if err != nil {
				return n, err
			}
			copy(buf[n:n+int(chunkLen)], blk[blockOffset:blockOffset+chunkLen])
		}
		pos += chunkLen
		n += int(chunkLen)
	}

	if h.updateATime() {
		if err := h.persist(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Write writes buf at offset, growing the file and allocating blocks
// (including sparse holes for any gap before offset) as needed.
func (h *Handle) Write(offset uint64, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.append {
		offset = h.inode.Size
	}

	n := 0
	for n < len(buf) {
		pos := offset + uint64(n)
		blockSlot := pos / BlockSize
		blockOffset := pos % BlockSize
		chunkLen := minUint64(BlockSize-blockOffset, uint64(len(buf)-n))

		blockIndex, err := h.getSlot(blockSlot)
		if err != nil {
			return n, err
		}
		var blk Block
		if blockIndex != InvalidIndex {
			blk, err = h.base.BlockRead(blockIndex)
			if err != nil {
				return n, err
			}
		}
		copy(blk[blockOffset:blockOffset+chunkLen], buf[n:n+int(chunkLen)])

		if blockIndex == InvalidIndex {
			newIndex, err := h.base.BlockAdd(&blk)
			if err != nil {
				return n, err
			}
			if err := h.setSlot(blockSlot, newIndex); err != nil {
				return n, err
			}
		} else {
			if err := h.base.BlockWrite(blockIndex, &blk); err != nil {
				return n, err
			}
		}
		n += int(chunkLen)
	}

	if offset+uint64(n) > h.inode.Size {
		h.inode.Size = offset + uint64(n)
	}
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	if err := h.persist(); err != nil {
		return n, err
	}
	return n, nil
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// --- directory operations ---

// FindDirent binary-searches this directory's sorted entries for
// name, returning its slot, the dirent index it lives at, and the
// decoded record. If no entry matches, found is false and slot is the
// position a new entry for name would need to occupy to keep the
// directory sorted (the contract Mkdirent relies on).
func (h *Handle) FindDirent(name string) (slot, index uint64, dirent Dirent, found bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.findDirentLocked(name)
}

// findDirentLocked assumes the directory's slots 0..slotCount()-1 are
// kept in strictly ascending lexicographic order by name (the
// invariant Mkdirent/Rmdirent/rename maintain) and binary-searches
// them accordingly.
func (h *Handle) findDirentLocked(name string) (slot, index uint64, dirent Dirent, found bool, err error) {
	if !h.inode.IsDir() {
		return 0, 0, Dirent{}, false, fserrors.NotDir("find", name)
	}
	a := int64(0)
	b := int64(h.slotCount()) - 1
	for b >= a {
		c := (a + b) / 2
		idx, err := h.getSlot(uint64(c))
		if err != nil {
			return 0, 0, Dirent{}, false, err
		}
		d, err := h.base.DirentRead(idx)
		if err != nil {
			return 0, 0, Dirent{}, false, err
		}
		switch {
		case name > d.Name:
			a = c + 1
		case name < d.Name:
			b = c - 1
		default:
			return uint64(c), idx, d, true, nil
		}
	}
	return uint64(a), 0, Dirent{}, false, nil
}

// ReadDirent decodes the dirent stored at direntSlot.
func (h *Handle) ReadDirent(direntSlot uint64) (Dirent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx, err := h.getSlot(direntSlot)
	if err != nil {
		return Dirent{}, err
	}
	if idx == InvalidIndex {
		return Dirent{}, fserrors.NotFound("readdirent", "")
	}
	return h.base.DirentRead(idx)
}

// ReadDirentPlus decodes the dirent at direntSlot along with the
// inode it names, saving the caller a separate getattr round trip
// (spec §6: "readDirentPlus").
func (h *Handle) ReadDirentPlus(direntSlot uint64) (Dirent, Inode, error) {
	d, err := h.ReadDirent(direntSlot)
	if err != nil {
		return Dirent{}, Inode{}, err
	}
	inode, err := h.base.InodeRead(d.InodeIndex)
	if err != nil {
		return Dirent{}, Inode{}, err
	}
	return d, inode, nil
}

// Mkdirent creates a new directory entry named name. If
// existingInodeIndex is InvalidIndex, a new inode is created via
// inodeCreator (given the parent's current inode for inheritance
// decisions such as setgid); otherwise the entry links to the
// existing inode (a hard link).
func (h *Handle) Mkdirent(name string, existingInodeIndex uint64, inodeCreator func(parent Inode) Inode) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.inode.IsDir() {
		return 0, fserrors.NotDir("mkdirent", name)
	}
	if len(name) > MaxNameLen {
		return 0, fserrors.NameTooLong("mkdirent", name)
	}
	slot, _, _, found, err := h.findDirentLocked(name)
	if err != nil {
		return 0, err
	}
	if found {
		return 0, fserrors.Exists("mkdirent", name)
	}

	inodeIndex := existingInodeIndex
	createdInode := false
	if inodeIndex == InvalidIndex {
		newInode := inodeCreator(h.inode)
		idx, err := h.base.InodeAdd(&newInode)
		if err != nil {
			return 0, err
		}
		inodeIndex = idx
		createdInode = true
	}

	d := Dirent{Name: name, InodeIndex: inodeIndex}
	direntIndex, err := h.base.DirentAdd(&d)
	if err != nil {
		if createdInode {
			_ = h.base.InodeRemove(inodeIndex)
		}
		return 0, err
	}
	if err := h.insertSlot(slot, direntIndex); err != nil {
		_ = h.base.DirentRemove(direntIndex)
		if createdInode {
			_ = h.base.InodeRemove(inodeIndex)
		}
		return 0, err
	}

	h.inode.Mtime = h.base.now()
	h.touchCtime()
	if err := h.persist(); err != nil {
		return 0, err
	}
	return inodeIndex, nil
}

// Rmdirent removes the directory entry named name after inodeChecker
// approves removing the inode it names (e.g. verifying an empty
// directory for rmdir, or rejecting a directory for unlink). The
// dirent record is freed; the target inode's own link count is the
// caller's responsibility.
func (h *Handle) Rmdirent(name string, inodeChecker func(Inode) error) (targetInodeIndex uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, _, d, found, err := h.findDirentLocked(name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fserrors.NotFound("rmdirent", name)
	}
	targetInode, err := h.base.InodeRead(d.InodeIndex)
	if err != nil {
		return 0, err
	}
	if err := inodeChecker(targetInode); err != nil {
		return 0, err
	}

	if err := h.removeSlot(slot, true); err != nil {
		return 0, err
	}
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	if err := h.persist(); err != nil {
		return 0, err
	}
	return d.InodeIndex, nil
}

// Readlink decodes the symlink target text stored in this inode's
// direct block.
func (h *Handle) Readlink() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.inode.Type() != TypeLNK {
		return "", fserrors.Invalid("readlink", "")
	}
	blockIndex := h.inode.SlotTrees[0]
	if blockIndex == InvalidIndex {
		return "", nil
	}
	blk, err := h.base.BlockRead(blockIndex)
	if err != nil {
		return "", err
	}
	n := h.inode.Size
	if n > BlockSize {
		n = BlockSize
	}
	return string(blk[:n]), nil
}

// --- rename helpers ---

// RenameHelperAdd inserts direntIndex at direntSlot, the sorted
// position a prior FindDirent on the destination name reported,
// shifting later entries right to keep the directory sorted.
func (h *Handle) RenameHelperAdd(direntSlot, direntIndex uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.insertSlot(direntSlot, direntIndex); err != nil {
		return err
	}
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	return h.persist()
}

// RenameHelperRemove clears direntSlot without freeing the dirent
// record it referenced; the caller owns that record afterwards. Top.Rename
// calls it after RenameHelperAdd has inserted the new-name record and
// then frees the old record itself.
func (h *Handle) RenameHelperRemove(direntSlot uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.removeSlot(direntSlot, false); err != nil {
		return err
	}
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	return h.persist()
}

// RenameHelperReplace overwrites the dirent index at direntSlot with
// newDirentIndex and returns the dirent index that was displaced, for
// the caller to free (a normal-mode rename onto an existing name).
func (h *Handle) RenameHelperReplace(direntSlot, newDirentIndex uint64) (oldDirentIndex uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	oldDirentIndex, err = h.getSlot(direntSlot)
	if err != nil {
		return 0, err
	}
	if err := h.setSlot(direntSlot, newDirentIndex); err != nil {
		return 0, err
	}
	h.inode.Mtime = h.base.now()
	h.touchCtime()
	return oldDirentIndex, h.persist()
}
