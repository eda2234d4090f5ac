package main

import (
	"bufio"
	"os"
	"sync"

	"kmer.lopezb.com/internal/hits"
)

// Journal is the append-only results file shared by every session. Writes
// land in a buffer; Fsync pushes them to disk.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// OpenJournal opens path for appending, writing the table header when the
// file is new or empty.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	j := &Journal{file: f, writer: bufio.NewWriter(f)}
	if st.Size() == 0 {
		if _, err := j.writer.WriteString(hits.TableHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return j, nil
}

// Write appends data, which must be whole table lines so that concurrent
// sessions never interleave inside a line.
func (j *Journal) Write(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.writer.Write(data)
	return err
}

// Fsync flushes the buffer and syncs the file.
func (j *Journal) Fsync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
