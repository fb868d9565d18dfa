package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FootprintBytes returns the bytes used on disk by the database file, its WAL
// and shared-memory siblings, and any extra paths such as the search index
// directory. Paths that do not exist count as zero.
func FootprintBytes(dbPath string, extra ...string) (int64, error) {
	paths := []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
	if dbPath == "" {
		paths = nil
	}
	var total int64
	for _, p := range append(paths, extra...) {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func pathSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
