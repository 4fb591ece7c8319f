// Package fingerprint computes stable content digests of files and directory trees.
//
// A directory digest covers every regular file below it, ordered by its
// slash-separated path relative to the root. Each file contributes its
// relative path followed by its bytes, so renaming a file changes the digest.
// A single file digest is the plain SHA-256 of its bytes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ashureev/assistant-bridge/internal/domain"
)

// Path returns the hex digest of the file or directory at path.
func Path(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("fingerprint %s: %w: %w", path, domain.ErrNotFound, err)
		}
		return "", fmt.Errorf("fingerprint %s: %w: %w", path, domain.ErrIO, err)
	}

	h := sha256.New()
	switch {
	case info.Mode().IsRegular():
		if err := copyFile(h, path); err != nil {
			return "", err
		}
	case info.IsDir():
		if err := hashDir(h, path); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("fingerprint %s: %w: unsupported file type %s", path, domain.ErrIO, info.Mode().Type())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PathOrEmpty is like Path but treats a missing path as an empty artifact set.
func PathOrEmpty(path string) (string, error) {
	sum, err := Path(path)
	if errors.Is(err, domain.ErrNotFound) {
		return Empty(), nil
	}
	return sum, err
}

// Empty returns the digest of an empty artifact set.
func Empty() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two digests are identical.
func Equal(a, b string) bool {
	return a == b
}

// Files returns the regular files below root as sorted slash-separated relative paths.
func Files(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w: %w", root, domain.ErrIO, err)
	}
	sort.Strings(files)
	return files, nil
}

func hashDir(h hash.Hash, root string) error {
	files, err := Files(root)
	if err != nil {
		return err
	}
	for _, rel := range files {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		if err := hashFile(h, filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	return nil
}

// hashFile streams a directory member into h, prefixed by its size so that
// adjacent files cannot shift bytes between each other.
func hashFile(h hash.Hash, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w: %w", path, domain.ErrIO, err)
	}
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(info.Size()))
	h.Write(size[:])
	return copyFile(h, path)
}

// copyFile streams the raw file bytes into h.
func copyFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", path, domain.ErrIO, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("read %s: %w: %w", path, domain.ErrIO, err)
	}
	return nil
}
