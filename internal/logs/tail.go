package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// Query selects a page of log lines.
type Query struct {
	// Offset is the byte position to resume from. Negative means "the last
	// Limit matching lines".
	Offset int64
	Limit  int
	// Follow waits up to Wait for new lines when the page would be empty.
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing every token.
	Match []string
}

// Page is the result of a read. Offset is where the next read should start.
type Page struct {
	Lines  []string
	Offset int64
}

// Read returns the lines selected by q. A missing log file yields an empty
// page at offset zero.
func Read(ctx context.Context, path string, q Query) (Page, error) {
	page := Page{Offset: q.Offset}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			page.Offset = 0
			return page, nil
		}
		return page, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return page, fmt.Errorf("log path %q is a directory", path)
	}
	if q.Wait < 0 {
		q.Wait = 0
	}
	match := matcher(q.Match)

	if q.Offset < 0 {
		lines, offset, err := lastLines(path, q.Limit, match)
		if err != nil {
			return page, err
		}
		page = Page{Lines: lines, Offset: offset}
	} else {
		offset := q.Offset
		if offset > info.Size() {
			// Rotated or truncated since the last read.
			offset = 0
		}
		lines, next, err := linesFrom(path, offset, match)
		if err != nil {
			return page, err
		}
		page = Page{Lines: lines, Offset: next}
	}

	if q.Follow && q.Wait > 0 && len(page.Lines) == 0 {
		return waitForLines(ctx, path, page.Offset, q.Wait, match)
	}
	return page, nil
}

func matcher(tokens []string) func(string) bool {
	var wanted []string
	for _, token := range tokens {
		if token = strings.TrimSpace(token); token != "" {
			wanted = append(wanted, token)
		}
	}
	return func(line string) bool {
		for _, token := range wanted {
			if !strings.Contains(line, token) {
				return false
			}
		}
		return true
	}
}

// lastLines keeps a ring of the newest limit matching lines.
func lastLines(path string, limit int, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	offset, err := scanLines(file, func(line string) {
		if !match(line) {
			return
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := 0; i < count; i++ {
		lines = append(lines, ring[(start+i)%limit])
	}
	return lines, offset, nil
}

func linesFrom(path string, offset int64, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	end, err := scanLines(file, func(line string) {
		if match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return nil, 0, err
	}
	return lines, end, nil
}

// scanLines feeds every complete line to fn and returns the offset just past
// the last complete line, so a partially written line is re-read next time.
func scanLines(file *os.File, fn func(string)) (int64, error) {
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	consumed := start
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match func(string) bool) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	page := Page{Offset: offset}
	for {
		lines, next, err := linesFrom(path, page.Offset, match)
		if err != nil {
			return page, err
		}
		page.Offset = next
		if len(lines) > 0 {
			page.Lines = lines
			return page, nil
		}
		if time.Now().After(deadline) {
			return page, nil
		}
		select {
		case <-ctx.Done():
			return page, ctx.Err()
		case <-ticker.C:
		}
	}
}
