package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// PathUsage is the on-disk size of one storage path.
type PathUsage struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Footprint reports the size of each path (files directly, directories recursively) and
// their total. Empty and missing paths are skipped.
func Footprint(paths ...string) ([]PathUsage, int64, error) {
	var usage []PathUsage
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		usage = append(usage, PathUsage{Path: p, Bytes: n})
		total += n
	}
	return usage, total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
