// Package iox has file helpers for writing artifacts.
package iox

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes a file by streaming into a temporary file in the
// same directory, and renaming it into place once 'write' succeeds.
// A failed or interrupted write never leaves a partial file at dstFilename.
func WriteFileAtomic(dstFilename string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dstFilename), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dstFilename), filepath.Base(dstFilename)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	buf := bufio.NewWriterSize(tmp, 1<<20)
	if err = write(buf); err == nil {
		err = buf.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dstFilename)
}

// WriteStreamToFile copies src into dstFilename
func WriteStreamToFile(dstFilename string, src io.Reader) error {
	return WriteFileAtomic(dstFilename, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// FileExists returns true if filename exists and is not a directory
func FileExists(filename string) bool {
	st, err := os.Stat(filename)
	return err == nil && !st.IsDir()
}
