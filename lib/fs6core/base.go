// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package fs6core

import (
	"fmt"
	"sync"

	"github.com/sixfs/sixfs/lib/bitmap"
	"github.com/sixfs/sixfs/lib/chunkio"
	"github.com/sixfs/sixfs/lib/chunkmgr"
	"github.com/sixfs/sixfs/lib/clock"
	"github.com/sixfs/sixfs/lib/crypt"
	"github.com/sixfs/sixfs/lib/emergency"
	"github.com/sixfs/sixfs/lib/fserrors"
	"github.com/sixfs/sixfs/lib/storage"
)

// Sealed, on-medium sizes when encryption is enabled: plaintext record
// size plus the authenticated-encryption framing overhead (spec §4.4).
const (
	EncInodeSize  = InodeSize + crypt.Overhead
	EncDirentSize = DirentSize + crypt.Overhead
	EncBlockSize  = BlockSize + crypt.Overhead
)

// BackendFactory builds the byte-level Backend for one named
// container file (or in-memory region) within the filesystem's
// directory. Base calls it once per object space per bitmap/data
// pair, six times in total.
type BackendFactory func(name string) storage.Backend

// Base owns the three object spaces (inode, dirent, block), each a
// bitmap-backed ChunkManager, plus the reference-counted cache of open
// Handles (spec §4.5). Encryption is optional, selected by whether
// NewBase was given a mount key (spec §4.4: "selected by the presence
// of a 32-byte key"); when disabled, records are stored at their
// plaintext size and the encryption gateway methods pass data through
// unchanged.
type Base struct {
	maxSize    uint64
	punchHoles bool
	encrypted  bool
	keys       *crypt.Keys
	clock      clock.Clock

	inodeMgr  *chunkmgr.ChunkManager
	direntMgr *chunkmgr.ChunkManager
	blockMgr  *chunkmgr.ChunkManager

	structureMu sync.RWMutex

	handleMu sync.Mutex
	handles  map[uint64]*Handle
}

// NewBase constructs the six backends named by newBackend
// ("inode.map", "inode.data", "dirent.map", "dirent.data",
// "block.map", "block.data"), wraps them into the three object
// spaces, and, if mountKey is non-empty, derives per-space encryption
// keys from it. A nil or empty mountKey mounts the medium unencrypted.
func NewBase(newBackend BackendFactory, maxSize uint64, mountKey []byte, punchHoles bool, c clock.Clock) (*Base, error) {
	encrypted := len(mountKey) > 0

	var keys *crypt.Keys
	inodeRecSize, direntRecSize, blockRecSize := uint64(InodeSize), uint64(DirentSize), uint64(BlockSize)
	if encrypted {
		var err error
		keys, err = crypt.DeriveKeys(mountKey)
		if err != nil {
			return nil, fmt.Errorf("fs6core: %w", err)
		}
		inodeRecSize, direntRecSize, blockRecSize = EncInodeSize, EncDirentSize, EncBlockSize
	}

	inodeMgr, err := newChunkManager(newBackend, "inode", inodeRecSize, punchHoles)
	if err != nil {
		return nil, err
	}
	direntMgr, err := newChunkManager(newBackend, "dirent", direntRecSize, punchHoles)
	if err != nil {
		return nil, err
	}
	blockMgr, err := newChunkManager(newBackend, "block", blockRecSize, punchHoles)
	if err != nil {
		return nil, err
	}

	return &Base{
		maxSize:    maxSize,
		punchHoles: punchHoles,
		encrypted:  encrypted,
		keys:       keys,
		clock:      c,
		inodeMgr:   inodeMgr,
		direntMgr:  direntMgr,
		blockMgr:   blockMgr,
		handles:    make(map[uint64]*Handle),
	}, nil
}

func newChunkManager(newBackend BackendFactory, space string, recordSize uint64, punchHoles bool) (*chunkmgr.ChunkManager, error) {
	mapBackend := newBackend(space + ".map")
	if err := mapBackend.Open(); err != nil {
		return nil, fmt.Errorf("fs6core: opening %s bitmap: %w", space, err)
	}
	dataBackend := newBackend(space + ".data")
	if err := dataBackend.Open(); err != nil {
		return nil, fmt.Errorf("fs6core: opening %s storage: %w", space, err)
	}

	bm := bitmap.New(chunkio.New(mapBackend, 8))
	data := chunkio.New(dataBackend, recordSize)
	mgr := chunkmgr.New(bm, data, punchHoles)
	if err := mgr.Initialize(); err != nil {
		return nil, fmt.Errorf("fs6core: initializing %s object space: %w", space, err)
	}
	return mgr, nil
}

// NeedsRootNode reports whether the inode space is empty, meaning a
// fresh filesystem that has never had its root directory created.
func (b *Base) NeedsRootNode() bool {
	return b.inodeMgr.ChunksInStorage() == 0
}

// CreateRootNode allocates inode 0 as an empty root directory, owned
// by uid/gid with the given mode.
func (b *Base) CreateRootNode(uid, gid uint32, mode uint32) (uint64, error) {
	root := DirectoryInode(b.now(), nil, uid, gid, mode)
	index, err := b.InodeAdd(&root)
	if err != nil {
		return 0, fmt.Errorf("fs6core: creating root node: %w", err)
	}
	return index, nil
}

func (b *Base) now() Time {
	t := b.clock.Now()
	return Time{Seconds: t.Unix(), Nanoseconds: uint32(t.Nanosecond())}
}

// StructureLock and StructureUnlock guard the directory/inode
// structure against concurrent compound mutations (mkdir, rename,
// unlink) while still allowing concurrent file-content I/O. Exclusive
// for structural changes, shared for lookups (spec §7).
func (b *Base) StructureLockExclusive()   { b.structureMu.Lock() }
func (b *Base) StructureUnlockExclusive() { b.structureMu.Unlock() }
func (b *Base) StructureLockShared()      { b.structureMu.RLock() }
func (b *Base) StructureUnlockShared()    { b.structureMu.RUnlock() }

// checkWriteAction verifies that adding additionalBytes more to
// storage, plus a reservation for up to four new indirection blocks
// that the slot-tree write triggering this allocation might still
// need, would not exceed the configured maximum medium size. Also
// rejects the write outright once the emergency latch has tripped.
func (b *Base) checkWriteAction(additionalBytes uint64) error {
	if active, _ := emergency.Active(); active {
		return fserrors.ReadOnly("write", "")
	}
	if b.maxSize == 0 {
		return nil // unbounded
	}
	blockRecordSize := uint64(BlockSize)
	if b.encrypted {
		blockRecordSize = EncBlockSize
	}
	indirectionReserve := 4 * blockRecordSize
	if b.storageSizeInBytes()+additionalBytes+indirectionReserve > b.maxSize {
		return fserrors.NoSpace("write", "")
	}
	return nil
}

func (b *Base) storageSizeInBytes() uint64 {
	return b.inodeMgr.StorageSizeInBytes() + b.direntMgr.StorageSizeInBytes() + b.blockMgr.StorageSizeInBytes()
}

// inodeKey, direntKey, and blockKey return the per-space subkey, or
// nil when encryption is disabled. sealFor/openFrom never dereference
// the key in that case, so it is safe to call these even when
// b.keys is nil.
func (b *Base) inodeKey() []byte {
	if !b.encrypted {
		return nil
	}
	return b.keys.Inode[:]
}

func (b *Base) direntKey() []byte {
	if !b.encrypted {
		return nil
	}
	return b.keys.Dirent[:]
}

func (b *Base) blockKey() []byte {
	if !b.encrypted {
		return nil
	}
	return b.keys.Block[:]
}

// --- Inode space ---

func (b *Base) InodeAdd(inode *Inode) (uint64, error) {
	plain, _ := inode.MarshalBinary()
	sealed, err := b.sealFor(b.inodeKey(), plain, EncInodeSize)
	if err != nil {
		return 0, err
	}
	if err := b.checkWriteAction(uint64(len(sealed))); err != nil {
		return 0, err
	}
	index, err := b.inodeMgr.Add(sealed)
	if err != nil {
		return 0, fserrors.IO("inodeAdd", "", err)
	}
	return index, nil
}

func (b *Base) InodeRemove(index uint64) error {
	if err := b.inodeMgr.Remove(index); err != nil {
		return fserrors.IO("inodeRemove", "", err)
	}
	return nil
}

func (b *Base) InodeRead(index uint64) (Inode, error) {
	raw := make([]byte, b.inodeMgr.ChunkSize())
	if err := b.inodeMgr.Read(index, raw); err != nil {
		return Inode{}, fserrors.IO("inodeRead", "", err)
	}
	plain, err := b.openFrom(b.inodeKey(), raw, InodeSize)
	if err != nil {
		return Inode{}, fserrors.IO("inodeRead", "", err)
	}
	var inode Inode
	if err := inode.UnmarshalBinary(plain); err != nil {
		return Inode{}, fserrors.IO("inodeRead", "", err)
	}
	return inode, nil
}

func (b *Base) InodeWrite(index uint64, inode *Inode) error {
	plain, _ := inode.MarshalBinary()
	sealed, err := b.sealFor(b.inodeKey(), plain, EncInodeSize)
	if err != nil {
		return fserrors.IO("inodeWrite", "", err)
	}
	if err := b.inodeMgr.Write(index, sealed); err != nil {
		return fserrors.IO("inodeWrite", "", err)
	}
	return nil
}

// --- Dirent space ---

func (b *Base) DirentAdd(d *Dirent) (uint64, error) {
	plain, err := d.MarshalBinary()
	if err != nil {
		return 0, fserrors.NameTooLong("direntAdd", d.Name)
	}
	sealed, err := b.sealFor(b.direntKey(), plain, EncDirentSize)
	if err != nil {
		return 0, fserrors.IO("direntAdd", d.Name, err)
	}
	if err := b.checkWriteAction(uint64(len(sealed))); err != nil {
		return 0, err
	}
	index, err := b.direntMgr.Add(sealed)
	if err != nil {
		return 0, fserrors.IO("direntAdd", d.Name, err)
	}
	return index, nil
}

func (b *Base) DirentRemove(index uint64) error {
	if err := b.direntMgr.Remove(index); err != nil {
		return fserrors.IO("direntRemove", "", err)
	}
	return nil
}

func (b *Base) DirentRead(index uint64) (Dirent, error) {
	raw := make([]byte, b.direntMgr.ChunkSize())
	if err := b.direntMgr.Read(index, raw); err != nil {
		return Dirent{}, fserrors.IO("direntRead", "", err)
	}
	plain, err := b.openFrom(b.direntKey(), raw, DirentSize)
	if err != nil {
		return Dirent{}, fserrors.IO("direntRead", "", err)
	}
	var d Dirent
	if err := d.UnmarshalBinary(plain); err != nil {
		return Dirent{}, fserrors.IO("direntRead", "", err)
	}
	return d, nil
}

func (b *Base) DirentWrite(index uint64, d *Dirent) error {
	plain, err := d.MarshalBinary()
	if err != nil {
		return fserrors.NameTooLong("direntWrite", d.Name)
	}
	sealed, err := b.sealFor(b.direntKey(), plain, EncDirentSize)
	if err != nil {
		return fserrors.IO("direntWrite", d.Name, err)
	}
	if err := b.direntMgr.Write(index, sealed); err != nil {
		return fserrors.IO("direntWrite", d.Name, err)
	}
	return nil
}

// --- Block space ---

func (b *Base) BlockAdd(blk *Block) (uint64, error) {
	sealed, err := b.sealFor(b.blockKey(), blk[:], EncBlockSize)
	if err != nil {
		return 0, fserrors.IO("blockAdd", "", err)
	}
	if err := b.checkWriteAction(uint64(len(sealed))); err != nil {
		return 0, err
	}
	index, err := b.blockMgr.Add(sealed)
	if err != nil {
		return 0, fserrors.IO("blockAdd", "", err)
	}
	return index, nil
}

func (b *Base) BlockRemove(index uint64) error {
	if err := b.blockMgr.Remove(index); err != nil {
		return fserrors.IO("blockRemove", "", err)
	}
	return nil
}

func (b *Base) BlockRead(index uint64) (Block, error) {
	raw := make([]byte, b.blockMgr.ChunkSize())
	if err := b.blockMgr.Read(index, raw); err != nil {
		return Block{}, fserrors.IO("blockRead", "", err)
	}
	plain, err := b.openFrom(b.blockKey(), raw, BlockSize)
	if err != nil {
		return Block{}, fserrors.IO("blockRead", "", err)
	}
	var blk Block
	copy(blk[:], plain)
	return blk, nil
}

func (b *Base) BlockWrite(index uint64, blk *Block) error {
	sealed, err := b.sealFor(b.blockKey(), blk[:], EncBlockSize)
	if err != nil {
		return fserrors.IO("blockWrite", "", err)
	}
	if err := b.blockMgr.Write(index, sealed); err != nil {
		return fserrors.IO("blockWrite", "", err)
	}
	return nil
}

// sealFor encrypts plain under key into a freshly allocated buffer
// sized sealedSize when encryption is enabled, or returns plain
// unchanged when it is not (spec §4.5 "encryption gateway... when no
// key is set, operations pass through unchanged").
func (b *Base) sealFor(key []byte, plain []byte, sealedSize int) ([]byte, error) {
	if !b.encrypted {
		return plain, nil
	}
	out := make([]byte, sealedSize)
	if err := crypt.Seal(key, plain, out); err != nil {
		return nil, err
	}
	return out, nil
}

// openFrom decrypts raw (as read from storage) into a plaintextSize
// buffer when encryption is enabled, or returns raw unchanged
// otherwise.
func (b *Base) openFrom(key []byte, raw []byte, plaintextSize int) ([]byte, error) {
	if !b.encrypted {
		return raw, nil
	}
	out := make([]byte, plaintextSize)
	if err := crypt.Open(key, raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Handle cache ---

// HandleGet returns the cached Handle for inodeIndex, creating and
// reading it from the inode space on first use, and incrementing its
// reference count either way.
func (b *Base) HandleGet(inodeIndex uint64) (*Handle, error) {
	b.handleMu.Lock()
	defer b.handleMu.Unlock()

	if h, ok := b.handles[inodeIndex]; ok {
		h.refCount++
		return h, nil
	}

	inode, err := b.InodeRead(inodeIndex)
	if err != nil {
		return nil, err
	}
	h := newHandle(b, inodeIndex, inode)
	h.refCount = 1
	b.handles[inodeIndex] = h
	return h, nil
}

// HandleRelease decrements the handle's reference count, flushing its
// cached indirection blocks. On the last release, if the handle was
// marked removeOnceUnused (its link count reached zero while open),
// the handle frees the inode and all of its blocks.
func (b *Base) HandleRelease(h *Handle) error {
	if err := h.flushCachedBlocks(); err != nil {
		return err
	}

	b.handleMu.Lock()
	h.refCount--
	remove := h.refCount == 0 && h.removeOnceUnused
	if h.refCount == 0 {
		delete(b.handles, h.inodeIndex)
	}
	b.handleMu.Unlock()

	if remove {
		return h.removeNow()
	}
	return nil
}

// Statfs reports aggregate capacity numbers derived from maxSize:
// maxBlockCount = maxSize/4096, maxInodeCount = maxSize/(sizeof(Inode)+
// sizeof(Dirent)). With no configured ceiling the backing medium is not
// consulted: the maximum block and inode counts are the counts already
// in storage plus 1<<20.
func (b *Base) Statfs() (blockSize uint64, maxNameLen uint64, maxBlocks, freeBlocks, maxInodes, freeInodes uint64) {
	blockSize = BlockSize
	maxNameLen = MaxNameLen

	usedBlocks := b.blockMgr.ChunksInStorage()
	usedInodes := b.inodeMgr.ChunksInStorage()
	if b.maxSize == 0 {
		// Unbounded medium: report a fixed headroom of 1<<20 free
		// blocks and inodes beyond what is already in storage.
		maxBlocks = usedBlocks + (1 << 20)
		freeBlocks = maxBlocks - usedBlocks
		maxInodes = usedInodes + (1 << 20)
		freeInodes = maxInodes - usedInodes
		return
	}
	maxBlocks = b.maxSize / BlockSize
	if usedBlocks > maxBlocks {
		freeBlocks = 0
	} else {
		freeBlocks = maxBlocks - usedBlocks
	}
	maxInodes = b.maxSize / (InodeSize + DirentSize)
	if usedInodes > maxInodes {
		freeInodes = 0
	} else {
		freeInodes = maxInodes - usedInodes
	}
	return
}

// RootIndex returns the inode number of the filesystem root. The root
// is always the first inode allocated on a fresh medium, since
// CreateRootNode only ever runs once, against a completely empty
// inode space, where the bitmap's first-zero scan always yields 0.
func (b *Base) RootIndex() uint64 { return 0 }
