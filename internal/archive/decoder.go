// Package archive decompresses gzip recordings into their text table.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"SeaIndexBridge/internal/domain"
)

// MaxLineBytes bounds a single table line when scanning the head.
const MaxLineBytes = 4 << 20

// Decode inflates a gzip stream into text.
func Decode(r io.Reader) (string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return "", domain.NewDecodeError("archive.decode", err)
	}
	defer zr.Close()

	var b strings.Builder
	if _, err := io.Copy(&b, zr); err != nil {
		return "", domain.NewDecodeError("archive.decode", err)
	}
	return b.String(), nil
}

// DecodeBytes is Decode over an in-memory archive.
func DecodeBytes(data []byte) (string, error) {
	return Decode(bytes.NewReader(data))
}

// DecodeLines returns the first n non-blank lines of the stream. The rest of
// the archive is inflated and discarded so a truncated or corrupt tail fails
// the checksum instead of passing as a valid recording.
func DecodeLines(r io.Reader, n int) ([]string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, domain.NewDecodeError("archive.lines", err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)

	lines := make([]string, 0, n)
	for len(lines) < n && scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		if !errors.Is(err, bufio.ErrTooLong) || len(lines) == 0 {
			return nil, domain.NewDecodeError("archive.lines", err)
		}
	}
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, domain.NewDecodeError("archive.lines", err)
	}
	return lines, nil
}
