package batchmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/utils"
)

// discoverFiles walks the folder tree depth-first and returns the photo
// files in a stable order. Directory entries are visited in lexical order,
// so repeated discovery of an unchanged tree yields the identical list.
//
// An unreadable root is fatal; an unreadable subdirectory is logged and
// skipped so one bad mount point cannot kill the whole batch. Hidden
// entries (dot-prefixed) are ignored.
func discoverFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	var files []string
	walkDir(root, &files)
	return files, nil
}

func walkDir(dir string, files *[]string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("skipping unreadable directory", logger.String("dir", dir), logger.Err(err))
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		if entry.IsDir() {
			walkDir(path, files)
			continue
		}
		if utils.IsPhotoFile(name) {
			*files = append(*files, path)
		}
	}
}
