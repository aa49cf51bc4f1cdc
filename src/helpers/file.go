package helpers

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ReadDataFile reads a whole data file.
func ReadDataFile(fs afero.Fs, filePath string) ([]byte, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading data file %s: %w", filePath, err)
	}
	return data, nil
}

// DeleteDataFile deletes a file
func DeleteDataFile(fs afero.Fs, filePath string) error {
	return fs.Remove(filePath)
}

// FileExists checks if a file exists and is not a directory
func FileExists(fs afero.Fs, filename string, logger *zap.SugaredLogger) bool {
	info, err := fs.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugw("File does not exist", "path", filename)
			return false
		}

		logger.Warnw("Error checking file for existence", "path", filename, "error", err)
		return false
	}

	return !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(fs afero.Fs, dir string) bool {
	ok, err := afero.DirExists(fs, dir)
	return err == nil && ok
}

// WriteFileAtomic writes data next to filePath under a unique temporary name
// and renames it into place, creating parent directories as needed.
func WriteFileAtomic(fs afero.Fs, filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(filePath)+"."+GenerateUUID()+".tmp")
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("error writing temp file for %s: %w", filePath, err)
	}

	if err := fs.Rename(tmp, filePath); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("error replacing %s: %w", filePath, err)
	}
	return nil
}

// ListFiles returns every regular file below root whose name ends with ext,
// as slash-separated paths relative to root, sorted. Top-level files and any
// directory named in skip are ignored.
func ListFiles(fs afero.Fs, root, ext string, skip ...string) ([]string, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}

	var files []string
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if _, ok := skipped[rel]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.Contains(rel, "/") || path.Ext(rel) != ext || strings.HasPrefix(path.Base(rel), ".") {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// RemoveEmptyParents removes the now-empty directories between filePath and
// stop, leaving stop itself in place.
func RemoveEmptyParents(fs afero.Fs, filePath, stop string) {
	stop = filepath.Clean(stop)
	for dir := filepath.Dir(filePath); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		empty, err := afero.IsEmpty(fs, dir)
		if err != nil || !empty {
			return
		}
		if err := fs.Remove(dir); err != nil {
			return
		}
	}
}
