// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fs6core implements the object store and path-resolution
// layer on top of lib/chunkmgr: the Inode, Dirent, and Block records,
// the Base that owns the three object spaces and the handle cache,
// the Handle that walks a single inode's five-rooted slot tree, and
// the Top that resolves paths into handles and drives the compound
// filesystem operations (spec §4.5-§4.8).
package fs6core

import (
	"encoding/binary"
	"fmt"
)

// InvalidIndex marks an empty slot-tree root or an unset xattr index.
const InvalidIndex = ^uint64(0)

// N is the number of uint64 indirection slots that fit in one Block.
const N = BlockSize / 8

// MaxSlotCount is the number of slots (0..MaxSlotCount-1) addressable by the
// five-rooted indirection tree: one direct slot plus four levels of
// N-way indirection.
const MaxSlotCount = 1 + N + N*N + N*N*N + N*N*N*N

// Fixed on-medium record sizes. These are compile-time constants, not
// configuration: changing them changes the wire format.
const (
	InodeSize  = 128
	DirentSize = 264
	BlockSize  = 4096

	direntNameSize = 256
)

// Permission and type bits, matching the traditional struct stat
// encoding used by mode_t.
const (
	TypeMask uint32 = 0170000
	TypeSOCK uint32 = 0140000
	TypeLNK  uint32 = 0120000
	TypeREG  uint32 = 0100000
	TypeBLK  uint32 = 0060000
	TypeDIR  uint32 = 0040000
	TypeCHR  uint32 = 0020000
	TypeFIFO uint32 = 0010000

	ModeSUID uint32 = 04000
	ModeSGID uint32 = 02000
	ModeSVTX uint32 = 01000
)

// Time is a fixed-width POSIX timestamp.
type Time struct {
	Seconds     int64
	Nanoseconds uint32
}

// IsOlderThan reports whether t is strictly before other.
func (t Time) IsOlderThan(other Time) bool {
	return t.Seconds < other.Seconds || (t.Seconds == other.Seconds && t.Nanoseconds < other.Nanoseconds)
}

func (t Time) marshal(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.Seconds))
	binary.LittleEndian.PutUint32(b[8:12], t.Nanoseconds)
}

func unmarshalTime(b []byte) Time {
	return Time{
		Seconds:     int64(binary.LittleEndian.Uint64(b[0:8])),
		Nanoseconds: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// Inode is the fixed-size on-medium metadata record for one file,
// directory, symlink, or special node. It is the filesystem analogue
// of struct stat, with every field pinned to an explicit width and
// byte order so the record is portable across architectures.
type Inode struct {
	Atime       Time
	Ctime       Time
	Mtime       Time
	UID         uint32
	GID         uint32
	TypeAndMode uint32
	Nlink       uint64
	Rdev        uint64
	Size        uint64
	// SlotTrees holds the five indirection-tree roots. SlotTrees[0] is
	// used directly as a leaf index with no indirection; SlotTrees[1..4]
	// root indirection trees one to four levels deep. A root is
	// InvalidIndex when that depth has never been allocated.
	SlotTrees [5]uint64
	// XattrIndex names the block that stores extended attributes, or
	// InvalidIndex if the inode has none.
	XattrIndex uint64
}

// Type returns the file type bits (S_IFREG, S_IFDIR, ...).
func (i *Inode) Type() uint32 { return i.TypeAndMode & TypeMask }

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool { return i.Type() == TypeDIR }

// MarshalBinary encodes the inode into its fixed InodeSize on-medium
// layout.
func (i *Inode) MarshalBinary() ([]byte, error) {
	b := make([]byte, InodeSize)
	i.Atime.marshal(b[0:12])
	i.Ctime.marshal(b[12:24])
	i.Mtime.marshal(b[24:36])
	binary.LittleEndian.PutUint32(b[36:40], i.UID)
	binary.LittleEndian.PutUint32(b[40:44], i.GID)
	binary.LittleEndian.PutUint32(b[44:48], i.TypeAndMode)
	binary.LittleEndian.PutUint64(b[48:56], i.Nlink)
	binary.LittleEndian.PutUint64(b[56:64], i.Rdev)
	binary.LittleEndian.PutUint64(b[64:72], i.Size)
	for n, v := range i.SlotTrees {
		binary.LittleEndian.PutUint64(b[72+n*8:80+n*8], v)
	}
	binary.LittleEndian.PutUint64(b[112:120], i.XattrIndex)
	// b[120:128] reserved for future extension, left zeroed.
	return b, nil
}

// UnmarshalBinary decodes an InodeSize record into the inode.
func (i *Inode) UnmarshalBinary(b []byte) error {
	if len(b) != InodeSize {
		return fmt.Errorf("fs6core: inode record is %d bytes, want %d", len(b), InodeSize)
	}
	i.Atime = unmarshalTime(b[0:12])
	i.Ctime = unmarshalTime(b[12:24])
	i.Mtime = unmarshalTime(b[24:36])
	i.UID = binary.LittleEndian.Uint32(b[36:40])
	i.GID = binary.LittleEndian.Uint32(b[40:44])
	i.TypeAndMode = binary.LittleEndian.Uint32(b[44:48])
	i.Nlink = binary.LittleEndian.Uint64(b[48:56])
	i.Rdev = binary.LittleEndian.Uint64(b[56:64])
	i.Size = binary.LittleEndian.Uint64(b[64:72])
	for n := range i.SlotTrees {
		i.SlotTrees[n] = binary.LittleEndian.Uint64(b[72+n*8 : 80+n*8])
	}
	i.XattrIndex = binary.LittleEndian.Uint64(b[112:120])
	return nil
}

// EmptyInode returns a new inode stamped with the current time and
// the given owner, with Nlink set to 1.
func EmptyInode(now Time, uid, gid uint32) Inode {
	return Inode{
		Atime:     now,
		Ctime:     now,
		Mtime:     now,
		UID:       uid,
		GID:       gid,
		Nlink:     1,
		SlotTrees: [5]uint64{InvalidIndex, InvalidIndex, InvalidIndex, InvalidIndex, InvalidIndex},
		XattrIndex: InvalidIndex,
	}
}

// DirectoryInode returns a new directory inode. If parent is
// non-nil and has the setgid bit, the new directory inherits the
// parent's group and setgid bit (BSD group-inheritance semantics).
func DirectoryInode(now Time, parent *Inode, uid, gid uint32, mode uint32) Inode {
	inode := EmptyInode(now, uid, gid)
	if parent != nil && parent.TypeAndMode&ModeSGID != 0 {
		inode.GID = parent.GID
	}
	inode.TypeAndMode = TypeDIR | (^TypeMask & mode)
	if parent != nil && parent.TypeAndMode&ModeSGID != 0 {
		inode.TypeAndMode |= ModeSGID
	}
	inode.Nlink = 2 // "." and ".."
	return inode
}

// NodeInode returns a new inode for a regular file, device, FIFO, or
// socket.
func NodeInode(now Time, uid, gid, typeAndMode uint32, rdev uint64) Inode {
	inode := EmptyInode(now, uid, gid)
	inode.TypeAndMode = typeAndMode
	inode.Rdev = rdev
	return inode
}

// SymlinkInode returns a new symlink inode pointing at the block that
// holds the target path text.
func SymlinkInode(now Time, uid, gid uint32, targetLen int, blockIndex uint64) Inode {
	inode := EmptyInode(now, uid, gid)
	inode.TypeAndMode = TypeLNK
	inode.Size = uint64(targetLen)
	inode.SlotTrees[0] = blockIndex
	return inode
}

// Dirent is one directory-entry record: a fixed-width NUL-padded name
// and the inode it names.
type Dirent struct {
	Name       string
	InodeIndex uint64
}

// MarshalBinary encodes the dirent into its fixed DirentSize on-medium
// layout. Name must fit a direntNameSize-1 byte field plus NUL
// terminator; MarshalBinary rejects names that don't fit rather than
// silently truncating them.
func (d *Dirent) MarshalBinary() ([]byte, error) {
	nameBytes := []byte(d.Name)
	if len(nameBytes) >= direntNameSize {
		return nil, fmt.Errorf("fs6core: dirent name %q is %d bytes, limit is %d", d.Name, len(nameBytes), direntNameSize-1)
	}
	b := make([]byte, DirentSize)
	copy(b[0:direntNameSize], nameBytes)
	binary.LittleEndian.PutUint64(b[direntNameSize:direntNameSize+8], d.InodeIndex)
	return b, nil
}

// UnmarshalBinary decodes a DirentSize record into the dirent.
func (d *Dirent) UnmarshalBinary(b []byte) error {
	if len(b) != DirentSize {
		return fmt.Errorf("fs6core: dirent record is %d bytes, want %d", len(b), DirentSize)
	}
	nameField := b[0:direntNameSize]
	nul := direntNameSize
	for i, c := range nameField {
		if c == 0 {
			nul = i
			break
		}
	}
	d.Name = string(nameField[:nul])
	d.InodeIndex = binary.LittleEndian.Uint64(b[direntNameSize : direntNameSize+8])
	return nil
}

// MaxNameLen is the longest dirent name the on-medium format can
// store, excluding the NUL terminator.
const MaxNameLen = direntNameSize - 1

// Block is one fixed-size unit of file data, symlink target text, or
// an array of N indirection/dirent/block indices. It is a plain byte
// array; BlockIndices/SetBlockIndices decode or encode the indirection
// view on demand.
type Block [BlockSize]byte

// BlockIndices decodes b as an array of N little-endian uint64
// indices (the indirection-block and directory-listing view).
func BlockIndices(b *Block) [N]uint64 {
	var out [N]uint64
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return out
}

// SetBlockIndices encodes indices into b as the indirection-block
// view.
func SetBlockIndices(b *Block, indices [N]uint64) {
	for i, v := range indices {
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], v)
	}
}

// NewIndirectionBlock returns a Block whose N indices are all
// InvalidIndex, suitable as a freshly allocated indirection node.
func NewIndirectionBlock() Block {
	var b Block
	var indices [N]uint64
	for i := range indices {
		indices[i] = InvalidIndex
	}
	SetBlockIndices(&b, indices)
	return b
}
