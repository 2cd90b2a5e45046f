// Package logsource turns raw object content into ordered log lines.
package logsource

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tinytelemetry/hecforward/internal/model"
)

// ErrLineTooLong is returned when a line exceeds the configured maximum size.
var ErrLineTooLong = bufio.ErrTooLong

// Scan reads r line by line and calls fn for every non-blank line in order.
// Lines end at "\n", "\r\n" or a lone "\r"; terminators are not included.
// It returns the number of lines handed to fn. Scanning stops at the first
// error from fn, from r, or at a line longer than maxLineSize.
func Scan(r io.Reader, maxLineSize int, fn func(line string) error) (int, error) {
	if maxLineSize <= 0 {
		maxLineSize = model.DefaultMaxLineSize
	}

	scanner := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxLineSize {
		initial = maxLineSize
	}
	scanner.Buffer(make([]byte, 0, initial), maxLineSize)
	scanner.Split(scanLines)

	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(line); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return n, fmt.Errorf("logsource: line %d exceeds max size (%d bytes): %w", n+1, maxLineSize, err)
		}
		return n, fmt.Errorf("logsource: read: %w", err)
	}
	return n, nil
}

// SplitLines splits data into its non-blank lines.
func SplitLines(data []byte) []string {
	var lines []string
	_, _ = Scan(bytes.NewReader(data), len(data)+1, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines
}

// scanLines is bufio.ScanLines extended to treat a lone '\r' as a terminator.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// Need one more byte to tell "\r" from "\r\n".
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
