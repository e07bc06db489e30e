package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrWrite could not persist file.
var ErrWrite = errors.New("write error")

// ErrEmptyFile file has zero length.
var ErrEmptyFile = errors.New("empty file")

// WriteFileAtomic writes data to a temporary file in the same
// directory and renames it to path. A half written file is
// never visible at path.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFileAtomic copies src to dst through a temporary file.
func CopyFileAtomic(dst string, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	var n int64
	err = writeAtomic(dst, func(w io.Writer) error {
		n, err = io.Copy(w, in)
		return err
	})
	return n, err
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrWrite, err)
	}
	tmpPath := tmp.Name()

	// Remove the temp file on every error path.
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return fmt.Errorf("%w: %v: %w", ErrWrite, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("%w: chmod: %w", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename temp file: %w", ErrWrite, err)
	}
	success = true
	return nil
}

// ReadHead reads at most n bytes from the start of path.
func ReadHead(path string, n int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// ReadCapped reads at most limit bytes of path and returns them
// together with the full file size.
func ReadCapped(path string, limit int) ([]byte, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%v: is a directory", path)
	}

	size := info.Size()
	n := int64(limit)
	if size < n {
		n = size
	}
	if n < 0 {
		n = 0
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	return buf[:read], size, nil
}

// FileSize returns the size of a regular file, ErrEmptyFile
// is returned for empty files.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%v: is a directory", path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%v: %w", path, ErrEmptyFile)
	}
	return info.Size(), nil
}

func dirExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// PrepareOutputDir creates the parent directory of path.
func PrepareOutputDir(path string) error {
	dir := filepath.Dir(path)
	if dirExist(dir) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create output directory: %w", ErrWrite, err)
	}
	return nil
}
