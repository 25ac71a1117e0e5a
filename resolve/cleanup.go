package resolve

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// SweepDir removes the oldest files once the directory exceeds maxBytes,
// trimming back to roughly 80% of the budget so the sweep doesn't run on
// every pass.
func SweepDir(dir string, maxBytes int64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	infos := make([]fs.FileInfo, 0, len(entries))
	var totalSize int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		infos = append(infos, info)
		totalSize += info.Size()
	}

	if totalSize <= maxBytes {
		return nil
	}

	sort.Slice(infos, func(i, j int) bool { // most recent first
		return infos[i].ModTime().After(infos[j].ModTime())
	})

	var runningSize int64
	targetSize := int64(float64(maxBytes) * 0.80)
	for _, info := range infos {
		runningSize += info.Size()
		if runningSize > targetSize {
			if err := os.Remove(filepath.Join(dir, info.Name())); err != nil {
				return err
			}
		}
	}

	return nil
}
