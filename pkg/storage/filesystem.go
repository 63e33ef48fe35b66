package storage

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

func copyFile(srcPath string, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := dest.ReadFrom(src); err != nil {
		_ = dest.Close()
		return err
	}
	return dest.Close()
}

// linkOrCopyFile hard links srcPath at destPath, falling back to a copy when
// linking is not possible.
func linkOrCopyFile(srcPath string, destPath string) error {
	if srcPath == destPath {
		return nil
	}

	// Writing through an existing link would truncate every other name for
	// the same inode, so break it first.
	if err := os.Remove(destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}
	return copyFile(srcPath, destPath)
}

// moveFile renames srcPath to destPath, copying across filesystems.
func moveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := linkOrCopyFile(srcPath, destPath); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
