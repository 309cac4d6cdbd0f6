package peer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrFileAccess = errors.New("cannot access file")

// Swapped out in tests to observe or fail file access.
var (
	readFile = os.ReadFile
	openFile = os.Open
)

// File is a file loaded fully into memory for a single send.
type File struct {
	Path string
	Name string
	Data []byte
}

// ExtractFileName returns the last path segment.
func ExtractFileName(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

// CheckFile resolves path to an absolute path and makes sure it names a
// regular file the process can open, without reading it.
func CheckFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrFileAccess, abs)
	}

	f, err := openFile(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	_ = f.Close()
	return abs, nil
}

func LoadFile(path string) (*File, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	return &File{
		Path: path,
		Name: ExtractFileName(path),
		Data: data,
	}, nil
}
