// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package fs6core

import (
	"testing"
	"time"

	"github.com/sixfs/sixfs/lib/clock"
	"github.com/sixfs/sixfs/lib/storage"
)

func newTestTop(t *testing.T) *Top {
	t.Helper()
	backends := make(map[string]*storage.Memory)
	newBackend := func(name string) storage.Backend {
		b := storage.NewMemory()
		backends[name] = b
		return b
	}
	mountKey := make([]byte, 32)
	for i := range mountKey {
		mountKey[i] = byte(i)
	}
	base, err := NewBase(newBackend, 0, mountKey, false, clock.Fake(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("NewBase: %v", err)
	}
	if base.NeedsRootNode() {
		if _, err := base.CreateRootNode(0, 0, 0755); err != nil {
			t.Fatalf("CreateRootNode: %v", err)
		}
	}
	return NewTop(base)
}

func TestMountCreatesRootOnFreshMedium(t *testing.T) {
	backends := make(map[string]*storage.Memory)
	newBackend := func(name string) storage.Backend {
		b := storage.NewMemory()
		backends[name] = b
		return b
	}
	base, err := NewBase(newBackend, 0, make([]byte, 32), false, clock.Fake(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatal(err)
	}
	top := NewTop(base)
	if err := top.Mount(0, 0, 0755); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	_, inode, err := top.GetAttr("/")
	if err != nil {
		t.Fatalf("GetAttr(/): %v", err)
	}
	if !inode.IsDir() {
		t.Fatal("expected root to be a directory")
	}
}

func TestMountRejectsLegacyFormat(t *testing.T) {
	top := newTestTop(t)
	root, err := top.base.InodeRead(RootInodeIndex)
	if err != nil {
		t.Fatal(err)
	}
	root.TypeAndMode |= 1 << 16
	if err := top.base.InodeWrite(RootInodeIndex, &root); err != nil {
		t.Fatal(err)
	}
	if err := top.Mount(0, 0, 0755); err == nil {
		t.Fatal("expected Mount to reject a legacy-format root inode")
	}
}

func TestMkdirAndGetAttr(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/dir", 0755, 1, 1); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	_, inode, err := top.GetAttr("/dir")
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if !inode.IsDir() {
		t.Fatal("expected directory")
	}
	if inode.UID != 1 || inode.GID != 1 {
		t.Fatalf("uid/gid = %d/%d, want 1/1", inode.UID, inode.GID)
	}

	if err := top.Mkdir("/dir", 0755, 1, 1); err == nil {
		t.Fatal("expected error creating duplicate directory")
	}
}

func TestMkdirMissingParentFails(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/nope/dir", 0755, 0, 0); err == nil {
		t.Fatal("expected error for missing parent")
	}
}

func TestRmdirRequiresEmpty(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/dir", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mkdir("/dir/child", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Rmdir("/dir"); err == nil {
		t.Fatal("expected error removing non-empty directory")
	}
	if err := top.Rmdir("/dir/child"); err != nil {
		t.Fatalf("Rmdir child: %v", err)
	}
	if err := top.Rmdir("/dir"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if _, _, err := top.GetAttr("/dir"); err == nil {
		t.Fatal("expected directory to be gone")
	}
}

func TestMknodWriteReadFile(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/file", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatalf("Mknod: %v", err)
	}

	h, err := top.Open("/file", false, false, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data := []byte("hello, sixfs")
	if n, err := top.Write(h, 0, data); err != nil || n != len(data) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	buf := make([]byte, len(data))
	if n, err := top.Read(h, 0, buf); err != nil || n != len(data) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if string(buf) != string(data) {
		t.Fatalf("read back %q, want %q", buf, data)
	}
	if err := top.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, inode, err := top.GetAttr("/file")
	if err != nil {
		t.Fatal(err)
	}
	if inode.Size != uint64(len(data)) {
		t.Fatalf("size = %d, want %d", inode.Size, len(data))
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/big", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	h, err := top.Open("/big", false, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer top.Close(h)

	size := BlockSize*3 + 17
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if n, err := top.Write(h, 0, data); err != nil || n != size {
		t.Fatalf("Write = %d, %v", n, err)
	}

	readBack := make([]byte, size)
	if n, err := top.Read(h, 0, readBack); err != nil || n != size {
		t.Fatalf("Read = %d, %v", n, err)
	}
	for i := range data {
		if data[i] != readBack[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, readBack[i], data[i])
		}
	}
}

func TestTruncateShrinkAndGrow(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/f", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	h, err := top.Open("/f", false, false, false)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, BlockSize*2)
	for i := range data {
		data[i] = 0xAB
	}
	if _, err := top.Write(h, 0, data); err != nil {
		t.Fatal(err)
	}
	top.Close(h)

	if err := top.Truncate("/f", 10); err != nil {
		t.Fatalf("Truncate shrink: %v", err)
	}
	_, inode, err := top.GetAttr("/f")
	if err != nil {
		t.Fatal(err)
	}
	if inode.Size != 10 {
		t.Fatalf("size after shrink = %d, want 10", inode.Size)
	}

	if err := top.Truncate("/f", 100); err != nil {
		t.Fatalf("Truncate grow: %v", err)
	}
	h2, err := top.Open("/f", true, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer top.Close(h2)
	buf := make([]byte, 100)
	if _, err := top.Read(h2, 0, buf); err != nil {
		t.Fatal(err)
	}
	for i := 10; i < 100; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected hole byte at %d to be zero, got %d", i, buf[i])
		}
	}
}

func TestSymlinkReadlink(t *testing.T) {
	top := newTestTop(t)
	if err := top.Symlink("/target/path", "/link", 0, 0); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := top.Readlink("/link")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/target/path" {
		t.Fatalf("target = %q, want %q", target, "/target/path")
	}
}

func TestLinkAndUnlink(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/a", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Link("/a", "/b"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	_, inodeA, err := top.GetAttr("/a")
	if err != nil {
		t.Fatal(err)
	}
	if inodeA.Nlink != 2 {
		t.Fatalf("nlink = %d, want 2", inodeA.Nlink)
	}

	if err := top.Unlink("/a"); err != nil {
		t.Fatalf("Unlink a: %v", err)
	}
	_, inodeB, err := top.GetAttr("/b")
	if err != nil {
		t.Fatalf("GetAttr b after unlinking a: %v", err)
	}
	if inodeB.Nlink != 1 {
		t.Fatalf("nlink after unlink = %d, want 1", inodeB.Nlink)
	}
	if err := top.Unlink("/b"); err != nil {
		t.Fatalf("Unlink b: %v", err)
	}
	if _, _, err := top.GetAttr("/b"); err == nil {
		t.Fatal("expected /b to be gone")
	}
}

func TestRenameNormalReplacesDestination(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/src", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/dst", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	h, err := top.Open("/src", false, false, false)
	if err != nil {
		t.Fatal(err)
	}
	top.Write(h, 0, []byte("payload"))
	top.Close(h)

	if err := top.Rename("/src", "/dst", RenameNormal); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, _, err := top.GetAttr("/src"); err == nil {
		t.Fatal("expected /src to be gone after rename")
	}
	h2, err := top.Open("/dst", true, false, false)
	if err != nil {
		t.Fatalf("Open /dst: %v", err)
	}
	defer top.Close(h2)
	buf := make([]byte, len("payload"))
	if _, err := top.Read(h2, 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "payload" {
		t.Fatalf("content = %q, want payload", buf)
	}
}

func TestRenameNoreplaceFailsWhenDestinationExists(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/src", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/dst", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Rename("/src", "/dst", RenameNoreplace); err == nil {
		t.Fatal("expected error when destination exists")
	}
}

func TestRenameExchangeSwapsContents(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/a", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/b", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	ha, _ := top.Open("/a", false, false, false)
	top.Write(ha, 0, []byte("AAAA"))
	top.Close(ha)
	hb, _ := top.Open("/b", false, false, false)
	top.Write(hb, 0, []byte("BBBB"))
	top.Close(hb)

	if err := top.Rename("/a", "/b", RenameExchange); err != nil {
		t.Fatalf("Rename exchange: %v", err)
	}

	ha2, err := top.Open("/a", true, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer top.Close(ha2)
	buf := make([]byte, 4)
	top.Read(ha2, 0, buf)
	if string(buf) != "BBBB" {
		t.Fatalf("/a content = %q, want BBBB", buf)
	}

	hb2, err := top.Open("/b", true, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer top.Close(hb2)
	top.Read(hb2, 0, buf)
	if string(buf) != "AAAA" {
		t.Fatalf("/b content = %q, want AAAA", buf)
	}
}

func TestRenameAcrossDirectories(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/dir1", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mkdir("/dir2", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/dir1/f", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Rename("/dir1/f", "/dir2/g", RenameNormal); err != nil {
		t.Fatalf("Rename across directories: %v", err)
	}
	if _, _, err := top.GetAttr("/dir1/f"); err == nil {
		t.Fatal("expected /dir1/f to be gone")
	}
	if _, _, err := top.GetAttr("/dir2/g"); err != nil {
		t.Fatalf("expected /dir2/g to exist: %v", err)
	}
}

func TestChmodChownUtimens(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mknod("/f", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Chmod("/f", 0600); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	_, inode, err := top.GetAttr("/f")
	if err != nil {
		t.Fatal(err)
	}
	if inode.TypeAndMode&^TypeMask != 0600 {
		t.Fatalf("mode = %o, want 0600", inode.TypeAndMode&^TypeMask)
	}

	if err := top.Chown("/f", 42, 43); err != nil {
		t.Fatalf("Chown: %v", err)
	}
	_, inode, err = top.GetAttr("/f")
	if err != nil {
		t.Fatal(err)
	}
	if inode.UID != 42 || inode.GID != 43 {
		t.Fatalf("uid/gid = %d/%d, want 42/43", inode.UID, inode.GID)
	}

	newTime := Time{Seconds: 12345, Nanoseconds: 0}
	if err := top.Utimens("/f", true, newTime, false, Time{}, false, Time{}); err != nil {
		t.Fatalf("Utimens: %v", err)
	}
	_, inode, err = top.GetAttr("/f")
	if err != nil {
		t.Fatal(err)
	}
	if inode.Atime != newTime {
		t.Fatalf("atime = %+v, want %+v", inode.Atime, newTime)
	}
}

func TestOpenDirAndReadDirent(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/dir", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/dir/a", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := top.Mknod("/dir/b", TypeREG|0644, 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	h, err := top.OpenDir("/dir")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer top.CloseDir(h)

	count := h.SlotCount()
	if count != 2 {
		t.Fatalf("slot count = %d, want 2", count)
	}

	seen := map[string]bool{}
	for i := uint64(0); i < count; i++ {
		d, inode, err := top.ReadDirentPlus(h, i)
		if err != nil {
			t.Fatalf("ReadDirentPlus(%d): %v", i, err)
		}
		seen[d.Name] = true
		if inode.Type() != TypeREG {
			t.Fatalf("entry %q has wrong type", d.Name)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("missing entries: %+v", seen)
	}
}

func TestReadDirentReturnsEntriesInSortedOrder(t *testing.T) {
	top := newTestTop(t)
	if err := top.Mkdir("/dir", 0755, 0, 0); err != nil {
		t.Fatal(err)
	}

	names := []string{"delta", "alpha", "echo", "charlie", "bravo"}
	for _, name := range names {
		if err := top.Mknod("/dir/"+name, TypeREG|0644, 0, 0, 0); err != nil {
			t.Fatalf("Mknod(%q): %v", name, err)
		}
	}

	h, err := top.OpenDir("/dir")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer top.CloseDir(h)

	count := h.SlotCount()
	if count != uint64(len(names)) {
		t.Fatalf("slot count = %d, want %d", count, len(names))
	}

	var got []string
	for i := uint64(0); i < count; i++ {
		d, err := top.ReadDirent(h, i)
		if err != nil {
			t.Fatalf("ReadDirent(%d): %v", i, err)
		}
		got = append(got, d.Name)
	}

	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("slots not strictly ascending: %v", got)
		}
	}

	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("slot %d = %q, want %q (full: %v)", i, got[i], name, got)
		}
	}
}

func TestStatfs(t *testing.T) {
	top := newTestTop(t)
	blockSize, maxNameLen, maxBlocks, freeBlocks, maxInodes, freeInodes := top.Statfs()
	if blockSize != BlockSize {
		t.Fatalf("blockSize = %d, want %d", blockSize, BlockSize)
	}
	if maxNameLen != MaxNameLen {
		t.Fatalf("maxNameLen = %d, want %d", maxNameLen, MaxNameLen)
	}
	if freeBlocks == 0 || freeInodes == 0 || maxBlocks == 0 || maxInodes == 0 {
		t.Fatal("expected nonzero capacity on unbounded medium")
	}
}
