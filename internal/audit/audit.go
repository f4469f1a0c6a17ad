// Package audit is an append-only JSONL log: one entry per line, rotated
// by size, with rotated files older than a retention window compressed
// in place. Queries run a predicate across the live file and every
// rotated file transparently, compressed or not.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	defaultMaxSize     = 10 * 1024 * 1024 // 10MB
	defaultCompressAge = 30 * 24 * time.Hour
	liveFileName       = "audit.log"
)

// Writer appends JSON entries to a rotating, append-only log file.
type Writer struct {
	dir         string
	maxSize     int64
	compressAge time.Duration
	logger      *zap.Logger

	mu          sync.Mutex
	file        *os.File
	currentSize int64
}

// NewWriter opens (creating if absent) an append-only log under dir.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
	}
	w := &Writer{dir: dir, maxSize: defaultMaxSize, compressAge: defaultCompressAge, logger: zap.NewNop()}
	if err := w.openLive(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetLogger attaches a logger for rotation/compression status messages.
func (w *Writer) SetLogger(logger *zap.Logger) {
	w.logger = logger.Named("audit")
}

func (w *Writer) openLive() error {
	path := filepath.Join(w.dir, liveFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audit: stat %s: %w", path, err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

// Append marshals entry as one JSON line and writes it to the live file,
// rotating first if the write would exceed the size limit.
func (w *Writer) Append(entry any) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize+int64(len(line)) > w.maxSize && w.currentSize > 0 {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	w.currentSize += int64(n)
	return nil
}

// rotateLocked closes the live file and renames it with an ISO-8601
// suffix, then opens a fresh live file. Caller must hold w.mu.
func (w *Writer) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("audit: close for rotation: %w", err)
	}
	suffix := time.Now().UTC().Format("20060102T150405.000000000Z")
	rotated := filepath.Join(w.dir, fmt.Sprintf("audit-%s.log", suffix))
	live := filepath.Join(w.dir, liveFileName)
	if err := os.Rename(live, rotated); err != nil {
		return fmt.Errorf("audit: rotate rename: %w", err)
	}
	w.logger.Info("rotated audit log",
		zap.String("file", filepath.Base(rotated)),
		zap.String("size", humanize.Bytes(uint64(w.currentSize))),
	)
	return w.openLive()
}

// Close flushes and closes the live file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// CompressOld gzips every rotated file older than the retention window
// that isn't already compressed, and removes the plaintext original once
// the compressed copy is written.
func (w *Writer) CompressOld() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("audit: list %s: %w", w.dir, err)
	}
	cutoff := time.Now().Add(-w.compressAge)

	for _, entry := range entries {
		name := entry.Name()
		if name == liveFileName || !strings.HasPrefix(name, "audit-") || strings.HasSuffix(name, ".gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, name)
		if err := compressFile(path); err != nil {
			return err
		}
		w.logger.Info("compressed rotated audit log",
			zap.String("file", name),
			zap.String("originalSize", humanize.Bytes(uint64(info.Size()))),
			zap.String("age", humanize.Time(info.ModTime())),
		)
	}
	return nil
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open %s for compression: %w", path, err)
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("audit: create %s: %w", dstPath, err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("audit: compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("audit: finalize %s: %w", dstPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("audit: close %s: %w", dstPath, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("audit: remove plaintext %s: %w", path, err)
	}
	return nil
}

// Query scans the live file plus every rotated file (compressed or not,
// oldest first) and returns every line for which predicate returns true.
func Query(dir string, predicate func(json.RawMessage) bool) ([]json.RawMessage, error) {
	paths, err := orderedLogFiles(dir)
	if err != nil {
		return nil, err
	}

	var matches []json.RawMessage
	for _, path := range paths {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			if predicate(line) {
				matches = append(matches, line)
			}
		}
	}
	return matches, nil
}

func orderedLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("audit: list %s: %w", dir, err)
	}
	var rotated, live []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == liveFileName:
			live = append(live, filepath.Join(dir, name))
		case strings.HasPrefix(name, "audit-"):
			rotated = append(rotated, filepath.Join(dir, name))
		}
	}
	sort.Strings(rotated) // ISO-8601 suffixes sort chronologically as strings
	return append(rotated, live...), nil
}

func readLines(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("audit: open gzip %s: %w", path, err)
		}
		defer gz.Close()
		reader = bufio.NewReader(gz)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []json.RawMessage
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		entry := make(json.RawMessage, len(line))
		copy(entry, line)
		lines = append(lines, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return lines, nil
}
