// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package fs6core

// slotToTreeIndices maps an absolute slot number onto one of the five
// indirection trees rooted in Inode.SlotTrees, and the up-to-four
// per-level array indices needed to walk from that root to the leaf.
//
// Slot 0 is the direct slot: SlotTrees[0] IS the leaf value, with no
// indirection block involved. Slots 1..N fall in tree 1 (one level of
// indirection); the next N² slots fall in tree 2; then N³ for tree 3;
// then N⁴ for tree 4. Only ijkl[0:tree] are meaningful for trees
// 1-3; tree 4 uses all four.
func slotToTreeIndices(slot uint64) (tree int, ijkl [4]uint64) {
	if slot == 0 {
		return 0, ijkl
	}
	slot--
	if slot < N {
		ijkl[0] = slot
		return 1, ijkl
	}
	slot -= N
	if slot < N*N {
		ijkl[0] = slot / N
		ijkl[1] = slot % N
		return 2, ijkl
	}
	slot -= N * N
	if slot < N*N*N {
		ijkl[0] = slot / (N * N)
		rem := slot % (N * N)
		ijkl[1] = rem / N
		ijkl[2] = rem % N
		return 3, ijkl
	}
	slot -= N * N * N
	ijkl[0] = slot / (N * N * N)
	rem := slot % (N * N * N)
	ijkl[1] = rem / (N * N)
	rem2 := rem % (N * N)
	ijkl[2] = rem2 / N
	ijkl[3] = rem2 % N
	return 4, ijkl
}
