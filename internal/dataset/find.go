package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// FindFiles returns every file under dir whose extension is ext (without the
// dot, case-insensitive), sorted by path.
func FindFiles(dir, ext string) ([]string, error) {
	suffix := "." + strings.ToLower(strings.TrimPrefix(ext, "."))
	var files []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), suffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find %s files in %s: %w", ext, dir, err)
	}
	sort.Strings(files)
	return files, nil
}
