package marketplace

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStorage is the content-addressed filesystem Storage backing
// discovered-capability persistence: `<root>/<provider>/<namespace>/<tool>.rtfs`,
// written atomically via temp-and-rename so a crash mid-write never leaves a
// torn file behind.
type FileStorage struct {
	Root string
}

// NewFileStorage creates a FileStorage rooted at root, creating it if absent.
func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("marketplace: creating storage root %q: %w", root, err)
	}
	return &FileStorage{Root: root}, nil
}

func (fs *FileStorage) pathFor(providerKind, namespace, tool string) string {
	return filepath.Join(fs.Root, providerKind, namespace, tool+".rtfs")
}

// Write atomically writes rtfsSource to <root>/<provider>/<namespace>/<tool>.rtfs.
func (fs *FileStorage) Write(providerKind, namespace, tool string, rtfsSource []byte) (string, error) {
	target := fs.pathFor(providerKind, namespace, tool)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("marketplace: creating shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*.rtfs")
	if err != nil {
		return "", fmt.Errorf("marketplace: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(rtfsSource); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("marketplace: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("marketplace: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("marketplace: renaming into place: %w", err)
	}
	return target, nil
}

// Read loads previously written RTFS source.
func (fs *FileStorage) Read(providerKind, namespace, tool string) ([]byte, error) {
	return os.ReadFile(fs.pathFor(providerKind, namespace, tool))
}
