package dns01

import (
	"os"
	"path/filepath"
)

// writeFile writes data to path via a temp file + rename so a concurrent
// reader of the challenge directory never observes a partial write.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
