// Package safe writes state files so that readers only ever observe either
// the previous or the new content.
package safe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrAlreadyDone is returned when the safe file has already been closed
// or committed
var ErrAlreadyDone = errors.New("safe file was already committed or closed")

// FileWriter writes into a temporary file next to the target and renames it
// over the target on Commit.
type FileWriter struct {
	tmpFile       *os.File
	path          string
	commitOrClose sync.Once
}

// NewFileWriter creates the temporary file for the target at path. A
// non-zero mode is applied to the temporary file before anything is written.
func NewFileWriter(path string, mode os.FileMode) (*FileWriter, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	writer := &FileWriter{tmpFile: tmpFile, path: path}

	if mode != 0 {
		if err := tmpFile.Chmod(mode); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("chmod temp file: %w", err)
		}
	}

	return writer, nil
}

// Write wraps the temporary file's Write.
func (fw *FileWriter) Write(p []byte) (int, error) {
	return fw.tmpFile.Write(p)
}

// Commit syncs the temporary file, renames it over the target and syncs the
// directory. Only the first call to Commit or Close has an effect.
func (fw *FileWriter) Commit() error {
	err := ErrAlreadyDone

	fw.commitOrClose.Do(func() {
		if err = fw.tmpFile.Sync(); err != nil {
			err = fmt.Errorf("syncing temp file: %w", err)
			return
		}

		if err = fw.tmpFile.Close(); err != nil {
			err = fmt.Errorf("closing temp file: %w", err)
			return
		}

		if err = os.Rename(fw.tmpFile.Name(), fw.path); err != nil {
			err = fmt.Errorf("renaming temp file: %w", err)
			return
		}

		if err = syncDir(filepath.Dir(fw.path)); err != nil {
			err = fmt.Errorf("syncing dir: %w", err)
			return
		}
	})

	return err
}

// Close discards the temporary file. Closing a committed writer returns
// ErrAlreadyDone and leaves the target untouched.
func (fw *FileWriter) Close() error {
	err := ErrAlreadyDone

	fw.commitOrClose.Do(func() {
		if err = fw.tmpFile.Close(); err != nil {
			return
		}
		if err = os.Remove(fw.tmpFile.Name()); err != nil && !os.IsNotExist(err) {
			return
		}
		err = nil
	})

	return err
}

// WriteFile atomically replaces the content of the file at path.
func WriteFile(path string, data []byte, mode os.FileMode) (returnedErr error) {
	writer, err := NewFileWriter(path, mode)
	if err != nil {
		return err
	}
	defer func() {
		if returnedErr != nil {
			_ = writer.Close()
		}
	}()

	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	return writer.Commit()
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}
