// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package fs6core

import (
	"strings"

	"github.com/sixfs/sixfs/lib/fserrors"
)

// RootInodeIndex is the inode number of the filesystem root. The root
// is always the first inode ever allocated on a fresh medium — the
// bitmap's first-zero scan starts at 0 — so mounting the same
// directory's inode space a second time finds the root at the same
// index without needing a superblock to record it.
const RootInodeIndex = 0

// RenameMode selects which of the three rename semantics Top.Rename
// applies (spec §6).
type RenameMode int

const (
	// RenameNormal silently replaces an existing destination.
	RenameNormal RenameMode = iota
	// RenameNoreplace fails with EEXIST if the destination exists.
	RenameNoreplace
	// RenameExchange atomically swaps the two paths' contents; both
	// must already exist.
	RenameExchange
)

// Top resolves slash-separated paths into Handles and drives the
// compound filesystem operations (mkdir, rename, open, ...) on top of
// Base's object spaces (spec §4.8).
type Top struct {
	base *Base
}

// NewTop wraps base as a path-resolving filesystem.
func NewTop(base *Base) *Top {
	return &Top{base: base}
}

// Base returns the underlying object store, for callers (statfs,
// mount bootstrap) that need it directly.
func (t *Top) Base() *Base { return t.base }

// Mount prepares the filesystem for use: it creates the root
// directory on a brand-new medium, or, on an existing one, validates
// that the root inode isn't a legacy ("v0") format record. v0 records
// are detected by a nonzero high word in typeAndMode, a bit pattern no
// record this implementation ever writes can produce.
func (t *Top) Mount(uid, gid, rootMode uint32) error {
	if t.base.NeedsRootNode() {
		_, err := t.base.CreateRootNode(uid, gid, rootMode)
		return err
	}

	root, err := t.base.InodeRead(RootInodeIndex)
	if err != nil {
		return err
	}
	if root.TypeAndMode>>16 != 0 {
		return fserrors.BadFormat("mount", "/")
	}
	return nil
}

// Unmount flushes any cached handle state. Handles are always
// released synchronously by their callers, so there is nothing left
// to flush by the time Unmount is called; it exists as the named
// bookend to Mount for callers that drive the full lifecycle.
func (t *Top) Unmount() error {
	return nil
}

func separate(path string) (parent, name string) {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/", path[idx+1:]
	}
	return path[:idx], path[idx+1:]
}

// findInode resolves an absolute, slash-separated path to an inode
// index by walking one directory lookup at a time from the root. The
// caller must hold at least the structure shared lock.
func (t *Top) findInode(path string) (uint64, error) {
	if path == "" || path[0] != '/' {
		return 0, fserrors.Invalid("lookup", path)
	}
	if path == "/" {
		return RootInodeIndex, nil
	}

	current := uint64(RootInodeIndex)
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" {
			continue
		}
		h, err := t.base.HandleGet(current)
		if err != nil {
			return 0, err
		}
		_, _, d, found, findErr := h.FindDirent(name)
		relErr := t.base.HandleRelease(h)
		if findErr != nil {
			return 0, findErr
		}
		if relErr != nil {
			return 0, relErr
		}
		if !found {
			return 0, fserrors.NotFound("lookup", path)
		}
		current = d.InodeIndex
	}
	return current, nil
}

// Statfs reports aggregate filesystem capacity.
func (t *Top) Statfs() (blockSize, maxNameLen, maxBlocks, freeBlocks, maxInodes, freeInodes uint64) {
	return t.base.Statfs()
}

// GetAttr resolves path and returns its inode index and metadata.
func (t *Top) GetAttr(path string) (uint64, Inode, error) {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return 0, Inode{}, err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return 0, Inode{}, err
	}
	defer t.base.HandleRelease(h)
	idx, inode := h.GetAttr()
	return idx, inode, nil
}

func (t *Top) getDirHandle(path string) (uint64, *Handle, error) {
	index, err := t.findInode(path)
	if err != nil {
		return 0, nil, err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return 0, nil, err
	}
	inode := h.Inode()
	if !inode.IsDir() {
		t.base.HandleRelease(h)
		return 0, nil, fserrors.NotDir("lookup", path)
	}
	return index, h, nil
}

// Mkdir creates an empty directory at path, owned by uid/gid.
func (t *Top) Mkdir(path string, mode uint32, uid, gid uint32) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	parentPath, name := separate(path)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	_, err = parent.Mkdirent(name, InvalidIndex, func(parentInode Inode) Inode {
		return DirectoryInode(t.base.now(), &parentInode, uid, gid, mode)
	})
	return err
}

// Rmdir removes the empty directory at path.
func (t *Top) Rmdir(path string) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	parentPath, name := separate(path)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	targetIndex, err := parent.Rmdirent(name, func(inode Inode) error {
		if !inode.IsDir() {
			return fserrors.NotDir("rmdir", path)
		}
		if inode.Size != 0 {
			return fserrors.NotEmpty("rmdir", path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	target, err := t.base.HandleGet(targetIndex)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(target)
	return target.ForceRemove()
}

// Mknod creates a regular file, device node, FIFO, or socket at path.
func (t *Top) Mknod(path string, typeAndMode uint32, rdev uint64, uid, gid uint32) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	parentPath, name := separate(path)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	_, err = parent.Mkdirent(name, InvalidIndex, func(Inode) Inode {
		return NodeInode(t.base.now(), uid, gid, typeAndMode, rdev)
	})
	return err
}

// Unlink removes the non-directory entry at path.
func (t *Top) Unlink(path string) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	parentPath, name := separate(path)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	targetIndex, err := parent.Rmdirent(name, func(inode Inode) error {
		if inode.IsDir() {
			return fserrors.IsDir("unlink", path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	target, err := t.base.HandleGet(targetIndex)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(target)
	return target.Remove()
}

// Symlink creates a symlink at linkpath pointing at target.
func (t *Top) Symlink(target, linkpath string, uid, gid uint32) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	if len(target) > BlockSize {
		return fserrors.NameTooLong("symlink", target)
	}
	parentPath, name := separate(linkpath)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	var blk Block
	copy(blk[:], target)
	blockIndex, err := t.base.BlockAdd(&blk)
	if err != nil {
		return err
	}

	_, err = parent.Mkdirent(name, InvalidIndex, func(Inode) Inode {
		return SymlinkInode(t.base.now(), uid, gid, len(target), blockIndex)
	})
	if err != nil {
		_ = t.base.BlockRemove(blockIndex)
		return err
	}
	return nil
}

// Readlink returns the target text of the symlink at path.
func (t *Top) Readlink(path string) (string, error) {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return "", err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return "", err
	}
	defer t.base.HandleRelease(h)
	return h.Readlink()
}

// Link creates a new hard link at newpath pointing at the same inode
// as oldpath.
func (t *Top) Link(oldpath, newpath string) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	oldIndex, err := t.findInode(oldpath)
	if err != nil {
		return err
	}
	old, err := t.base.HandleGet(oldIndex)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(old)
	oldInode := old.Inode()
	if oldInode.IsDir() {
		return fserrors.IsDir("link", oldpath)
	}

	parentPath, name := separate(newpath)
	_, parent, err := t.getDirHandle(parentPath)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(parent)

	if _, err := parent.Mkdirent(name, oldIndex, nil); err != nil {
		return err
	}
	return old.Link()
}

// Rename moves or exchanges oldpath and newpath per mode.
func (t *Top) Rename(oldpath, newpath string, mode RenameMode) error {
	t.base.StructureLockExclusive()
	defer t.base.StructureUnlockExclusive()

	oldParentPath, oldName := separate(oldpath)
	newParentPath, newName := separate(newpath)

	oldParentIndex, err := t.findInode(oldParentPath)
	if err != nil {
		return err
	}
	newParentIndex, err := t.findInode(newParentPath)
	if err != nil {
		return err
	}

	oldParent, err := t.base.HandleGet(oldParentIndex)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(oldParent)

	newParent := oldParent
	if newParentIndex != oldParentIndex {
		newParent, err = t.base.HandleGet(newParentIndex)
		if err != nil {
			return err
		}
		defer t.base.HandleRelease(newParent)
	}

	oldSlot, oldDirentIndex, oldDirent, found, err := oldParent.FindDirent(oldName)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.NotFound("rename", oldpath)
	}

	newSlot, newDirentIndex, newDirent, newFound, err := newParent.FindDirent(newName)
	if err != nil {
		return err
	}

	switch mode {
	case RenameNoreplace:
		if newFound {
			return fserrors.Exists("rename", newpath)
		}
	case RenameExchange:
		if !newFound {
			return fserrors.NotFound("rename", newpath)
		}
	}

	if mode == RenameExchange {
		swappedOld := Dirent{Name: oldDirent.Name, InodeIndex: newDirent.InodeIndex}
		swappedNew := Dirent{Name: newDirent.Name, InodeIndex: oldDirent.InodeIndex}
		if err := t.base.DirentWrite(oldDirentIndex, &swappedOld); err != nil {
			return err
		}
		if err := t.base.DirentWrite(newDirentIndex, &swappedNew); err != nil {
			return err
		}
		if err := oldParent.TouchAndPersist(); err != nil {
			return err
		}
		if newParent != oldParent {
			return newParent.TouchAndPersist()
		}
		return nil
	}

	// Normal or Noreplace: the destination dirent record must carry
	// the new name, so a fresh record is written and the stale
	// old-name record is freed, rather than reusing oldDirentIndex.
	fresh := Dirent{Name: newName, InodeIndex: oldDirent.InodeIndex}
	freshIndex, err := t.base.DirentAdd(&fresh)
	if err != nil {
		return err
	}

	if newFound {
		displacedInode, err := t.base.InodeRead(newDirent.InodeIndex)
		if err != nil {
			return err
		}
		displacedIsDir := displacedInode.IsDir()
		oldIsDir := func() bool {
			inode, err := t.base.InodeRead(oldDirent.InodeIndex)
			return err == nil && inode.IsDir()
		}()
		if displacedIsDir != oldIsDir {
			_ = t.base.DirentRemove(freshIndex)
			if displacedIsDir {
				return fserrors.IsDir("rename", newpath)
			}
			return fserrors.NotDir("rename", newpath)
		}

		displacedDirentIndex, err := newParent.RenameHelperReplace(newSlot, freshIndex)
		if err != nil {
			_ = t.base.DirentRemove(freshIndex)
			return err
		}
		_ = t.base.DirentRemove(displacedDirentIndex)

		displaced, err := t.base.HandleGet(newDirent.InodeIndex)
		if err == nil {
			_ = displaced.Remove()
			_ = t.base.HandleRelease(displaced)
		}
	} else {
		if err := newParent.RenameHelperAdd(newSlot, freshIndex); err != nil {
			_ = t.base.DirentRemove(freshIndex)
			return err
		}
		if newParentIndex == oldParentIndex && oldSlot >= newSlot {
			// Inserting at newSlot shifted every later slot in this
			// same directory one place right, including oldSlot.
			oldSlot++
		}
	}

	if err := oldParent.RenameHelperRemove(oldSlot); err != nil {
		return err
	}
	return t.base.DirentRemove(oldDirentIndex)
}

// Chmod updates the permission bits of path.
func (t *Top) Chmod(path string, mode uint32) error {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(h)
	return h.Chmod(mode)
}

// Chown updates the owning uid/gid of path.
func (t *Top) Chown(path string, uid, gid uint32) error {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(h)
	return h.Chown(uid, gid)
}

// Utimens sets path's timestamps explicitly.
func (t *Top) Utimens(path string, updateAtime bool, atime Time, updateMtime bool, mtime Time, updateCtime bool, ctime Time) error {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(h)
	return h.Utimens(updateAtime, atime, updateMtime, mtime, updateCtime, ctime)
}

// Truncate resizes the regular file at path.
func (t *Top) Truncate(path string, length uint64) error {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return err
	}
	defer t.base.HandleRelease(h)
	return h.Truncate(length)
}

// OpenDir resolves path and returns a Handle open for directory
// listing. The caller must pass it to CloseDir when done.
func (t *Top) OpenDir(path string) (*Handle, error) {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return nil, err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return nil, err
	}
	if err := h.OpenDir(); err != nil {
		t.base.HandleRelease(h)
		return nil, err
	}
	return h, nil
}

// CloseDir releases a Handle obtained from OpenDir.
func (t *Top) CloseDir(h *Handle) error {
	return t.base.HandleRelease(h)
}

// ReadDirent decodes the dirent at direntSlot within an open directory
// handle.
func (t *Top) ReadDirent(h *Handle, direntSlot uint64) (Dirent, error) {
	return h.ReadDirent(direntSlot)
}

// ReadDirentPlus decodes the dirent and its target inode together.
func (t *Top) ReadDirentPlus(h *Handle, direntSlot uint64) (Dirent, Inode, error) {
	return h.ReadDirentPlus(direntSlot)
}

// Open resolves path and returns a Handle open for file content I/O.
func (t *Top) Open(path string, readOnly, trunc, appendMode bool) (*Handle, error) {
	t.base.StructureLockShared()
	defer t.base.StructureUnlockShared()

	index, err := t.findInode(path)
	if err != nil {
		return nil, err
	}
	h, err := t.base.HandleGet(index)
	if err != nil {
		return nil, err
	}
	if err := h.Open(readOnly, trunc, appendMode); err != nil {
		t.base.HandleRelease(h)
		return nil, err
	}
	return h, nil
}

// Close releases a Handle obtained from Open.
func (t *Top) Close(h *Handle) error {
	return t.base.HandleRelease(h)
}

// Read reads from an open Handle.
func (t *Top) Read(h *Handle, offset uint64, buf []byte) (int, error) {
	return h.Read(offset, buf)
}

// Write writes to an open Handle.
func (t *Top) Write(h *Handle, offset uint64, buf []byte) (int, error) {
	return h.Write(offset, buf)
}
