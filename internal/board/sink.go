package board

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// JSONLSink appends one self-contained JSON record per line and, at session
// end, rewrites the artifact sorted by id descending. Every append is
// synced to disk immediately so a crash loses at most the record in flight,
// and that record's id is not yet in the visited store.
type JSONLSink struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// OpenJSONLSink opens (or creates) the artifact at path for appending.
func OpenJSONLSink(path string, logger *zap.Logger) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	return &JSONLSink{path: path, file: file, logger: logger}, nil
}

// Append writes record as one line and syncs it to durable storage.
func (s *JSONLSink) Append(record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", record.ID, err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append record %d: %w", record.ID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync record %d: %w", record.ID, err)
	}
	return nil
}

// Finalize re-reads the artifact, drops duplicate ids keeping the first
// occurrence, sorts by id descending, and rewrites the file via a temp file
// and rename. A failure anywhere leaves the appended data untouched.
func (s *JSONLSink) Finalize() error {
	if err := s.file.Sync(); err != nil {
		s.logger.Warn("Sync before finalize failed", zap.Error(err))
	}

	lines, err := s.readLines()
	if err != nil {
		return fmt.Errorf("finalize read: %w", err)
	}
	if len(lines) == 0 {
		return nil
	}

	type keyed struct {
		id   int64
		line []byte
	}
	seen := make(map[int64]struct{}, len(lines))
	records := make([]keyed, 0, len(lines))
	for _, line := range lines {
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			s.logger.Warn("Skipping unparsable line during finalize", zap.Error(err))
			continue
		}
		if _, dup := seen[head.ID]; dup {
			s.logger.Info("Dropping duplicate record during finalize",
				zap.Int64("article_no", head.ID))
			continue
		}
		seen[head.ID] = struct{}{}
		records = append(records, keyed{id: head.ID, line: line})
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].id > records[j].id })

	tmp := s.path + ".sorted"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("finalize open temp: %w", err)
	}
	writer := bufio.NewWriter(out)
	for _, rec := range records {
		if _, err := writer.Write(rec.line); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("finalize write: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("finalize write: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize flush: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize sync: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize close temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize replace: %w", err)
	}
	return nil
}

// Close closes the underlying file handle.
func (s *JSONLSink) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

func (s *JSONLSink) readLines() ([][]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
