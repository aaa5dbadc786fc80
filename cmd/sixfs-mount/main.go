// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// sixfs-mount builds the object store and path-resolution layers over
// a directory of six container files and drives them from a
// line-oriented command loop on stdin. There is no kernel-facing
// adapter here — this binary exists to exercise every Top operation
// against a real backend (mmap, pread/pwrite, or in-memory) without
// depending on FUSE.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/sixfs/sixfs/lib/clock"
	"github.com/sixfs/sixfs/lib/config"
	"github.com/sixfs/sixfs/lib/fs6core"
	"github.com/sixfs/sixfs/lib/secret"
	"github.com/sixfs/sixfs/lib/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sixfs-mount: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dirFlag        string
		maxSizeFlag    string
		keyFileFlag    string
		backendFlag    string
		punchHolesFlag bool
		logLevelFlag   string
	)

	flagSet := pflag.NewFlagSet("sixfs-mount", pflag.ContinueOnError)
	flagSet.StringVar(&dirFlag, "dir", "", "directory holding the six container files (overrides SIXFS_CONFIG)")
	flagSet.StringVar(&maxSizeFlag, "max-size", "", "hard ceiling on total container bytes, e.g. 10G")
	flagSet.StringVar(&keyFileFlag, "key-file", "", "path to a 32-byte raw key file; omit for an unencrypted mount")
	flagSet.StringVar(&backendFlag, "backend", "", "storage backend: mmap, file, or mem")
	flagSet.BoolVar(&punchHolesFlag, "punch-holes", false, "punch holes in container files when chunks are freed")
	flagSet.StringVar(&logLevelFlag, "log-level", "", "debug, info, warn, or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(flagSet)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
	}
	if maxSizeFlag != "" {
		cfg.MaxSize = maxSizeFlag
	}
	if keyFileFlag != "" {
		cfg.KeyFile = keyFileFlag
	}
	if backendFlag != "" {
		cfg.Backend = config.Backend(backendFlag)
	}
	if punchHolesFlag {
		cfg.PunchHoles = true
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Backend != config.BackendMemory {
		if err := cfg.EnsureDir(); err != nil {
			return err
		}
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	}
	logger := slog.New(handler)

	key, err := cfg.LoadKey()
	if err != nil {
		return err
	}
	if key != nil {
		defer key.Close()
	}

	maxSize, err := cfg.ParsedMaxSize()
	if err != nil {
		return err
	}

	base, err := buildBase(cfg, maxSize, key)
	if err != nil {
		return err
	}

	top := fs6core.NewTop(base)
	if err := top.Mount(0, 0, 0755); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	encrypted := "no"
	if key != nil {
		encrypted = "yes"
	}
	logger.Info("sixfs mounted",
		"dir", cfg.AbsDir(),
		"backend", cfg.Backend,
		"encrypted", encrypted,
	)

	return runCommandLoop(top, logger)
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `sixfs-mount - build and drive a sixfs object store from stdin commands

Usage:
  sixfs-mount [flags]

Reads mount configuration from the SIXFS_CONFIG environment variable
(a YAML file), then applies any flags on top. Requires --dir or a
config file setting dir.

Commands (one per line on stdin):
  mkdir PATH MODE
  rmdir PATH
  mknod PATH MODE
  ln OLDPATH NEWPATH
  symlink TARGET LINKPATH
  readlink PATH
  mv OLDPATH NEWPATH
  rm PATH
  ls PATH
  stat PATH
  cat PATH
  write PATH TEXT
  truncate PATH LENGTH
  chmod PATH MODE
  chown PATH UID GID
  statfs
  quit

Flags:
`)
	flagSet.PrintDefaults()
}

func loadConfig() (*config.Config, error) {
	if os.Getenv("SIXFS_CONFIG") == "" {
		return config.Default(), nil
	}
	return config.Load()
}

// buildBase opens the backend set named by cfg.Backend and wraps it
// into a Base. mmap and file backends each name their container
// files inode.map/inode.data/dirent.map/dirent.data/block.map/
// block.data under cfg.Dir; the in-memory backend ignores names and
// keeps everything in process memory.
func buildBase(cfg *config.Config, maxSize uint64, key *secret.Buffer) (*fs6core.Base, error) {
	var newBackend fs6core.BackendFactory
	switch cfg.Backend {
	case config.BackendFile:
		newBackend = func(name string) storage.Backend {
			return storage.NewFile(filepath.Join(cfg.Dir, name))
		}
	case config.BackendMemory:
		newBackend = func(name string) storage.Backend {
			return storage.NewMemory()
		}
	default:
		newBackend = func(name string) storage.Backend {
			return storage.NewMmap(filepath.Join(cfg.Dir, name))
		}
	}

	var mountKey []byte
	if key != nil {
		mountKey = key.Bytes()
	}
	return fs6core.NewBase(newBackend, maxSize, mountKey, cfg.PunchHoles, clock.Real())
}

func runCommandLoop(top *fs6core.Top, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		if cmd == "quit" || cmd == "exit" {
			return nil
		}

		if err := dispatch(top, cmd, args); err != nil {
			logger.Error("command failed", "command", cmd, "error", err)
		}
	}
	return scanner.Err()
}

func dispatch(top *fs6core.Top, cmd string, args []string) error {
	switch cmd {
	case "mkdir":
		if len(args) != 2 {
			return fmt.Errorf("usage: mkdir PATH MODE")
		}
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil {
			return err
		}
		return top.Mkdir(args[0], uint32(mode), 0, 0)

	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: rmdir PATH")
		}
		return top.Rmdir(args[0])

	case "mknod":
		if len(args) != 2 {
			return fmt.Errorf("usage: mknod PATH MODE")
		}
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil {
			return err
		}
		return top.Mknod(args[0], fs6core.TypeREG|uint32(mode), 0, 0, 0)

	case "ln":
		if len(args) != 2 {
			return fmt.Errorf("usage: ln OLDPATH NEWPATH")
		}
		return top.Link(args[0], args[1])

	case "symlink":
		if len(args) != 2 {
			return fmt.Errorf("usage: symlink TARGET LINKPATH")
		}
		return top.Symlink(args[0], args[1], 0, 0)

	case "readlink":
		if len(args) != 1 {
			return fmt.Errorf("usage: readlink PATH")
		}
		target, err := top.Readlink(args[0])
		if err != nil {
			return err
		}
		fmt.Println(target)
		return nil

	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("usage: mv OLDPATH NEWPATH")
		}
		return top.Rename(args[0], args[1], fs6core.RenameNormal)

	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm PATH")
		}
		return top.Unlink(args[0])

	case "ls":
		if len(args) != 1 {
			return fmt.Errorf("usage: ls PATH")
		}
		return listDir(top, args[0])

	case "stat":
		if len(args) != 1 {
			return fmt.Errorf("usage: stat PATH")
		}
		return statPath(top, args[0])

	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat PATH")
		}
		return catFile(top, args[0])

	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: write PATH TEXT")
		}
		return writeFile(top, args[0], strings.Join(args[1:], " "))

	case "truncate":
		if len(args) != 2 {
			return fmt.Errorf("usage: truncate PATH LENGTH")
		}
		length, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}
		return top.Truncate(args[0], length)

	case "chmod":
		if len(args) != 2 {
			return fmt.Errorf("usage: chmod PATH MODE")
		}
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil {
			return err
		}
		return top.Chmod(args[0], uint32(mode))

	case "chown":
		if len(args) != 3 {
			return fmt.Errorf("usage: chown PATH UID GID")
		}
		uid, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		gid, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		return top.Chown(args[0], uint32(uid), uint32(gid))

	case "statfs":
		blockSize, maxNameLen, maxBlocks, freeBlocks, maxInodes, freeInodes := top.Statfs()
		usedBytes := (maxBlocks - freeBlocks) * blockSize
		totalBytes := maxBlocks * blockSize
		fmt.Printf("used=%s/%s max_name_len=%d blocks=%d/%d inodes=%d/%d\n",
			humanize.Bytes(usedBytes), humanize.Bytes(totalBytes), maxNameLen,
			maxBlocks-freeBlocks, maxBlocks, maxInodes-freeInodes, maxInodes)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listDir(top *fs6core.Top, path string) error {
	h, err := top.OpenDir(path)
	if err != nil {
		return err
	}
	defer top.CloseDir(h)

	for slot := uint64(0); slot < h.SlotCount(); slot++ {
		d, err := top.ReadDirent(h, slot)
		if err != nil {
			return err
		}
		fmt.Println(d.Name)
	}
	return nil
}

func statPath(top *fs6core.Top, path string) error {
	index, inode, err := top.GetAttr(path)
	if err != nil {
		return err
	}
	fmt.Printf("inode=%d type_and_mode=%o nlink=%d size=%d uid=%d gid=%d\n",
		index, inode.TypeAndMode, inode.Nlink, inode.Size, inode.UID, inode.GID)
	return nil
}

func catFile(top *fs6core.Top, path string) error {
	h, err := top.Open(path, true, false, false)
	if err != nil {
		return err
	}
	defer top.Close(h)

	_, inode := h.GetAttr()
	buf := make([]byte, inode.Size)
	n, err := top.Read(h, 0, buf)
	if err != nil {
		return err
	}
	os.Stdout.Write(buf[:n])
	fmt.Println()
	return nil
}

func writeFile(top *fs6core.Top, path, text string) error {
	h, err := top.Open(path, false, false, false)
	if err != nil {
		return err
	}
	defer top.Close(h)
	_, err = top.Write(h, 0, []byte(text))
	return err
}
