package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.json"), `{"name":"b"}`)
	writeFile(t, filepath.Join(dir, "a.json"), `{"name":"a"}`)
	writeFile(t, filepath.Join(dir, "nested", "c.txt"), "nested content")
	return dir
}

func TestPathFileMatchesContent(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.txt")
	p2 := filepath.Join(dir, "two.txt")
	writeFile(t, p1, "same bytes")
	writeFile(t, p2, "same bytes")

	s1, err := Path(p1)
	require.NoError(t, err)
	s2, err := Path(p2)
	require.NoError(t, err)

	assert.Len(t, s1, 64)
	assert.Equal(t, s1, s2)
}

func TestPathFileIsPlainSHA256(t *testing.T) {
	p := filepath.Join(t.TempDir(), "assistant.yaml")
	writeFile(t, p, "name: Bridge\n")

	sum, err := Path(p)
	require.NoError(t, err)

	want := sha256.Sum256([]byte("name: Bridge\n"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestPathDirectoryStable(t *testing.T) {
	dir := newTree(t)

	first, err := Path(dir)
	require.NoError(t, err)
	second, err := Path(dir)
	require.NoError(t, err)

	assert.True(t, Equal(first, second))
}

func TestPathDirectoryIndependentOfLocation(t *testing.T) {
	a := newTree(t)
	b := newTree(t)

	sa, err := Path(a)
	require.NoError(t, err)
	sb, err := Path(b)
	require.NoError(t, err)

	assert.Equal(t, sa, sb)
}

func TestPathDirectoryChangesOnContent(t *testing.T) {
	dir := newTree(t)
	before, err := Path(dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "nested", "c.txt"), "nested content!")

	after, err := Path(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPathDirectoryChangesOnRename(t *testing.T) {
	dir := newTree(t)
	before, err := Path(dir)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(dir, "a.json"), filepath.Join(dir, "z.json")))

	after, err := Path(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPathDirectoryChangesOnNewFile(t *testing.T) {
	dir := newTree(t)
	before, err := Path(dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "d.json"), "")

	after, err := Path(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPathNotFound(t *testing.T) {
	_, err := Path(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPathOrEmptyMissing(t *testing.T) {
	sum, err := PathOrEmpty(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Equal(t, Empty(), sum)
}

func TestPathEmptyDirectoryEqualsEmpty(t *testing.T) {
	sum, err := Path(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Empty(), sum)
}

func TestFilesSorted(t *testing.T) {
	dir := newTree(t)
	files, err := Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json", "nested/c.txt"}, files)
}

func TestPathConcurrent(t *testing.T) {
	dir := newTree(t)
	want, err := Path(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Path(dir)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- errors.New("digest mismatch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
