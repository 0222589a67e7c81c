package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrAbsolutePath     = errors.New("absolute paths are not allowed")
	ErrReservedName     = errors.New("reserved filename not allowed")
	ErrUnsupportedImage = errors.New("unsupported image extension")
	ErrNotRegularFile   = errors.New("not a regular file")

	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateSavePath checks a relative output path for a result image.
func ValidateSavePath(path string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}

	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(path, "..") {
		return ErrPathTraversal
	}

	base := filepath.Base(cleaned)
	if windowsReservedNames[stem(base)] {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return fmt.Errorf("filename cannot start with hyphen")
	}

	if ext := strings.ToLower(filepath.Ext(base)); ext != "" && !imageExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, ext)
	}
	return nil
}

// ValidateImagePath checks that a mask or canvas source is a readable image file.
func ValidateImagePath(path string) error {
	if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	return nil
}

// SanitizeName turns free text into a safe canvas or file name.
func SanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(strings.TrimSpace(name))
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if windowsReservedNames[stem(sanitized)] {
		sanitized = sanitized + "_"
	}
	if sanitized == "" {
		sanitized = "canvas"
	}
	return sanitized
}

func stem(base string) string {
	return strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))
}
