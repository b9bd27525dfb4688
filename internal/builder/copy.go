// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies a regular file from src to dst, preserving the source mode.
// Parent directories of dst are created as needed.
func CopyFile(src, dst string) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }() // Read-only file; close error non-critical

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return nil
}

// copySymlink recreates the symlink at src as dst, replacing any existing
// entry so rebuilds over a populated tree stay idempotent.
func copySymlink(src, dst string) error {
	linkTarget, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("failed to read symlink: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace existing entry: %w", err)
	}
	if err := os.Symlink(linkTarget, dst); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	return nil
}

// CopyTree copies src (a file, directory, or symlink) to dst.
//
// With dereference=false, symlinks are recreated as symlinks, preserving the
// source tree's link structure. With dereference=true, symlinks are resolved
// and their contents copied as regular files; trust stores (CA certificate
// directories full of links) need this to survive relocation into a bundle.
func CopyTree(ctx context.Context, src, dst string, dereference bool) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !dereference {
			return copySymlink(src, dst)
		}
		// Resolve the link and copy whatever it points to.
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return fmt.Errorf("failed to resolve symlink: %w", err)
		}
		return CopyTree(ctx, resolved, dst, true)
	}

	if !info.IsDir() {
		return CopyFile(src, dst)
	}

	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if err := CopyTree(ctx, srcPath, dstPath, dereference); err != nil {
			return err
		}
	}

	return nil
}
