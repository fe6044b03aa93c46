// Package fileutil reads source programs, instruction files and VM input.
package fileutil

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// utf8BOM is stripped from the start of decoded sources.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadSource reads a source file and returns it as UTF-8 text. When path
// does not exist, a file in the same directory whose name differs only in
// case is used instead.
func ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		actual, ferr := FindFileCaseInsensitive(filepath.Dir(path), filepath.Base(path))
		if ferr != nil {
			return "", fmt.Errorf("failed to read file %s: %w", path, err)
		}
		data, err = os.ReadFile(actual)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	content, err := DecodeSource(data)
	if err != nil {
		return "", fmt.Errorf("failed to convert encoding for %s: %w", path, err)
	}
	return content, nil
}

// DecodeSource converts raw source bytes to UTF-8. Valid UTF-8 is returned
// as is, minus a leading byte order mark. Anything else is decoded as
// Windows-1252, the usual encoding of Latin-1 era PHP files.
func DecodeSource(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	reader := transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode Windows-1252: %w", err)
	}
	return string(out), nil
}

// ReadNumbers reads whitespace-separated numbers from r. Lines starting
// with '#' are ignored.
func ReadNumbers(r io.Reader) ([]float64, error) {
	values := []float64{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(text, "#") {
			continue
		}
		for _, field := range strings.Fields(text) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("input line %d: invalid number %q", line, field)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return values, nil
}

// ReadNumbersFile reads ReadNumbers input from a file.
func ReadNumbersFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()
	return ReadNumbers(f)
}

// WriteFile writes data to path, creating parent directories as needed.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FindFileCaseInsensitive searches for a file with the given name in the specified directory.
// The search is case-insensitive, which is useful for cross-platform compatibility.
//
// Example:
//
//	path, err := FindFileCaseInsensitive("/path/to/dir", "Soma.PHP")
//	// Will find "soma.php", "SOMA.PHP", "Soma.php", etc.
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), filename) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s)", filename, dir)
}
