package security

import (
	"crypto/rand"
	"os"
	"path/filepath"
)

// SecureRemoveTree overwrites every regular file under root with three
// passes (zeros, ones, cryptographic random) before unlinking it, then
// removes the now-empty directory tree. Uploaded documents and their
// extracted artifacts may contain sensitive content, so purge must not
// leave recoverable bytes behind on the retention cutoff.
//
// Errors overwriting or removing an individual file are not fatal: the
// walk continues so a single locked or already-gone file doesn't abort
// the rest of a purge cycle.
func SecureRemoveTree(root string) error {
	if root == "" {
		return nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		secureOverwrite(path, info.Size())
		return nil
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(root)
}

func secureOverwrite(path string, size int64) {
	if size <= 0 {
		return
	}
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return
	}
	defer file.Close()

	passes := make([][]byte, 3)
	passes[0] = make([]byte, size)
	passes[1] = make([]byte, size)
	for i := range passes[1] {
		passes[1][i] = 0xFF
	}
	passes[2] = make([]byte, size)
	_, _ = rand.Read(passes[2])

	for _, pass := range passes {
		if _, err := file.Seek(0, 0); err != nil {
			return
		}
		if _, err := file.Write(pass); err != nil {
			return
		}
		_ = file.Sync()
	}
}
