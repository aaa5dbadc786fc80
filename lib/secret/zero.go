// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package secret

// Zero overwrites b with zero bytes in place. Used to scrub plain
// heap-allocated copies of secret material (e.g. a file read via
// os.ReadFile) once they have been copied into a protected [Buffer].
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
