// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypt implements the authenticated-encryption framing
// applied to every inode, dirent, and block chunk before it reaches
// storage (spec §4.4). Each record is sealed with XChaCha20-Poly1305
// behind a one-byte sentinel that distinguishes real ciphertext from
// a chunk that was turned into a hole.
//
// A single 32-byte mount key is never used directly: [DeriveKeys]
// splits it via HKDF-SHA256 into three domain-separated subkeys, one
// per object space, so that a compromise of one space's ciphertext
// corpus does not help an attacker against another.
package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of both the mount key and each
// derived per-space subkey.
const KeySize = chacha20poly1305.KeySize

// Overhead is the number of bytes the framing adds to every sealed
// record: a one-byte sentinel, a 24-byte nonce, and a 16-byte
// authentication tag.
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

const (
	sentinelHole   byte = 0x00
	sentinelSealed byte = 0xFF
)

// Space identifies which object space a subkey belongs to, used as
// HKDF "info" context to domain-separate derived keys.
type Space string

// The three object spaces sharing one mount key.
const (
	SpaceInode  Space = "sixfs-inode-space"
	SpaceDirent Space = "sixfs-dirent-space"
	SpaceBlock  Space = "sixfs-block-space"
)

// Keys holds the three per-space subkeys derived from one mount key.
type Keys struct {
	Inode  [KeySize]byte
	Dirent [KeySize]byte
	Block  [KeySize]byte
}

// DeriveKeys expands mountKey (exactly KeySize bytes) into
// domain-separated subkeys for the inode, dirent, and block spaces
// using HKDF-SHA256. The same mountKey always yields the same Keys,
// so a mount reopened with the same key can decrypt data written by
// an earlier mount.
func DeriveKeys(mountKey []byte) (*Keys, error) {
	if len(mountKey) != KeySize {
		return nil, fmt.Errorf("crypt: mount key is %d bytes, want %d", len(mountKey), KeySize)
	}
	var keys Keys
	for _, pair := range []struct {
		space Space
		out   *[KeySize]byte
	}{
		{SpaceInode, &keys.Inode},
		{SpaceDirent, &keys.Dirent},
		{SpaceBlock, &keys.Block},
	} {
		if err := derive(mountKey, pair.space, pair.out[:]); err != nil {
			return nil, fmt.Errorf("crypt: deriving %s key: %w", pair.space, err)
		}
	}
	return &keys, nil
}

func derive(mountKey []byte, space Space, out []byte) error {
	reader := hkdf.New(sha256.New, mountKey, nil, []byte(space))
	_, err := io.ReadFull(reader, out)
	return err
}

// SealedSize returns the on-medium size of a plaintext record of the
// given length once framed.
func SealedSize(plaintextSize int) int {
	return plaintextSize + Overhead
}

// Seal frames plaintext under key, writing the result to out, which
// must be exactly len(plaintext)+Overhead bytes. A fresh random nonce
// is generated for every call.
func Seal(key []byte, plaintext []byte, out []byte) error {
	if len(out) != len(plaintext)+Overhead {
		return fmt.Errorf("crypt: seal: output buffer is %d bytes, want %d", len(out), len(plaintext)+Overhead)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypt: seal: %w", err)
	}

	out[0] = sentinelSealed
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("crypt: seal: generating nonce: %w", err)
	}
	aead.Seal(out[1+chacha20poly1305.NonceSizeX:1+chacha20poly1305.NonceSizeX], nonce, plaintext, nil)
	return nil
}

// SealHole frames a hole marker of the given plaintext size: the
// sentinel byte is cleared so Open can recognize it and return an
// all-zero plaintext without touching the AEAD. The nonce and
// ciphertext bytes are left zeroed; they carry no meaning for a hole.
func SealHole(plaintextSize int, out []byte) error {
	if len(out) != plaintextSize+Overhead {
		return fmt.Errorf("crypt: seal hole: output buffer is %d bytes, want %d", len(out), plaintextSize+Overhead)
	}
	clear(out)
	out[0] = sentinelHole
	return nil
}

// Open authenticates and decrypts in (a sealed record) under key into
// plaintext, which must be exactly len(in)-Overhead bytes. If in is a
// hole marker, plaintext is zero-filled and no AEAD work happens.
func Open(key []byte, in []byte, plaintext []byte) error {
	if len(in) != len(plaintext)+Overhead {
		return fmt.Errorf("crypt: open: input is %d bytes, want %d", len(in), len(plaintext)+Overhead)
	}
	if in[0] == sentinelHole {
		clear(plaintext)
		return nil
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypt: open: %w", err)
	}
	nonce := in[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := in[1+chacha20poly1305.NonceSizeX:]
	if _, err := aead.Open(plaintext[:0], nonce, ciphertext, nil); err != nil {
		return fmt.Errorf("crypt: open: authentication failed: %w", err)
	}
	return nil
}

// IsHole reports whether a sealed record is a hole marker, without
// decrypting it.
func IsHole(in []byte) bool {
	return len(in) > 0 && in[0] == sentinelHole
}
