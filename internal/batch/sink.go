package batch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink receives encoded day logs.
type Sink interface {
	// Write stores data under name and returns the resulting location.
	Write(name string, data []byte) (string, error)
}

// DirSink writes files into a directory. Each file is written to a temporary
// name and renamed so readers never observe a partial log.
type DirSink struct {
	Dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

func (s *DirSink) Write(name string, data []byte) (string, error) {
	path := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, name+".tmp*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}
