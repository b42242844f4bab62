package storage

import (
	"os"
	"strings"

	"github.com/Forest904/beathub/internal/constants"
)

// Sanitize strips characters that are invalid in filesystem paths and trims
// trailing dots and spaces, which Windows rejects.
func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimRight(mapped, ". ")
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

func CreateFile(path string) (*os.File, error) {
	return os.Create(path)
}

func WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, constants.FilePermissions)
}

func RemoveFile(path string) error {
	return os.Remove(path)
}
