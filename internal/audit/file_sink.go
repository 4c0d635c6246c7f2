package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// maxGenerations is the total number of log generations kept, counting the
// active file: the active log plus rotated files .1 through .4, per spec.md
// §4.4 "rotated at 10 MiB with 5 generations".
const maxGenerations = 5

// rotateThreshold is the active file size, in bytes, past which the next
// write triggers rotation.
const rotateThreshold = 10 * 1024 * 1024

// FileSink appends JSON-lines audit events to a file, rotating it once it
// crosses rotateThreshold. It never returns write errors to the caller —
// failures are logged to stderr (spec.md §4.4/§7).
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	size int64
}

// NewFileSink opens (creating if absent) the audit log at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSink{path: path, file: f, size: info.Size()}, nil
}

// Log writes one JSON line, rotating first if needed.
func (s *FileSink) Log(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal failed: %v\n", err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(data)) > rotateThreshold {
		if err := s.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "audit: rotate failed: %v\n", err)
		}
	}

	n, err := s.file.Write(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
		return
	}
	s.size += int64(n)
}

func (s *FileSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	for i := maxGenerations - 1; i >= 1; i-- {
		older := fmt.Sprintf("%s.%d", s.path, i)
		newer := fmt.Sprintf("%s.%d", s.path, i-1)
		if i == 1 {
			newer = s.path
		}
		if _, err := os.Stat(newer); err == nil {
			os.Rename(newer, older)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	s.file = f
	s.size = 0
	return nil
}

// Close closes the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
