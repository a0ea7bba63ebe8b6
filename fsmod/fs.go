// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fsmod

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
	"syscall"
)

// fileSystem is the blocking I/O performed on behalf of scripts.
type fileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	AppendFile(name string, data []byte) error
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Mkdir(name string, recursive bool) error
	Remove(name string, recursive bool) error
}

const (
	filePerm = 0o666
	dirPerm  = 0o777
)

// hostFS resolves paths against the process working directory.
type hostFS struct{}

func (hostFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (hostFS) WriteFile(name string, data []byte) error {
	return os.WriteFile(name, data, filePerm)
}

func (hostFS) AppendFile(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}
	return writeAndClose(f, data)
}

func (hostFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (hostFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

func (hostFS) Mkdir(name string, recursive bool) error {
	if recursive {
		return os.MkdirAll(name, dirPerm)
	}
	return os.Mkdir(name, dirPerm)
}

func (hostFS) Remove(name string, recursive bool) error {
	if recursive {
		if _, err := os.Lstat(name); err != nil {
			return err
		}
		return os.RemoveAll(name)
	}
	return os.Remove(name)
}

// rootFS confines paths to a directory tree. The root is opened for each
// operation, so no descriptor outlives it.
type rootFS struct {
	dir string
}

func (x rootFS) with(fn func(root *os.Root) error) error {
	root, err := os.OpenRoot(x.dir)
	if err != nil {
		return err
	}
	defer root.Close()
	return fn(root)
}

func (x rootFS) ReadFile(name string) (data []byte, err error) {
	err = x.with(func(root *os.Root) error {
		data, err = root.ReadFile(name)
		return err
	})
	return
}

func (x rootFS) WriteFile(name string, data []byte) error {
	return x.with(func(root *os.Root) error {
		return root.WriteFile(name, data, filePerm)
	})
}

func (x rootFS) AppendFile(name string, data []byte) error {
	return x.with(func(root *os.Root) error {
		f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
		if err != nil {
			return err
		}
		return writeAndClose(f, data)
	})
}

func (x rootFS) Stat(name string) (info fs.FileInfo, err error) {
	err = x.with(func(root *os.Root) error {
		info, err = root.Stat(name)
		return err
	})
	return
}

func (x rootFS) ReadDir(name string) (entries []fs.DirEntry, err error) {
	err = x.with(func(root *os.Root) error {
		f, err := root.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		if entries, err = f.ReadDir(-1); err != nil {
			return err
		}
		slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
		return nil
	})
	return
}

func (x rootFS) Mkdir(name string, recursive bool) error {
	return x.with(func(root *os.Root) error {
		if recursive {
			return root.MkdirAll(name, dirPerm)
		}
		return root.Mkdir(name, dirPerm)
	})
}

func (x rootFS) Remove(name string, recursive bool) error {
	return x.with(func(root *os.Root) error {
		if recursive {
			if _, err := root.Lstat(name); err != nil {
				return err
			}
			return root.RemoveAll(name)
		}
		return root.Remove(name)
	})
}

func writeAndClose(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// errorCode maps err onto the closest node.js error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "ENOENT"
	case errors.Is(err, fs.ErrExist):
		return "EEXIST"
	case errors.Is(err, fs.ErrPermission):
		return "EACCES"
	case errors.Is(err, syscall.ENOTDIR):
		return "ENOTDIR"
	case errors.Is(err, syscall.EISDIR):
		return "EISDIR"
	case errors.Is(err, syscall.ENOTEMPTY):
		return "ENOTEMPTY"
	default:
		return "EIO"
	}
}
