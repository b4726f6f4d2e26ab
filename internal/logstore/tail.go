package logstore

import (
	"bytes"
	"os"
	"path/filepath"
)

const (
	tailBlock = 64 * 1024
	// MaxLineBytes caps one returned line; longer lines keep their final MaxLineBytes.
	MaxLineBytes = 1024 * 1024
)

// Tail returns at most n trailing lines of path, without line terminators.
// The file is read backwards in blocks, so memory follows what is returned
// rather than n or the file size.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var (
		lines    []string // newest first
		rest     []byte   // bytes of the line currently being assembled
		sawBreak bool
		block    = make([]byte, tailBlock)
		pos      = fi.Size()
	)
	for pos > 0 && len(lines) < n {
		size := int64(tailBlock)
		if pos < size {
			size = pos
		}
		pos -= size
		if _, err := f.ReadAt(block[:size], pos); err != nil {
			return nil, err
		}
		data := make([]byte, 0, int(size)+len(rest))
		data = append(append(data, block[:size]...), rest...)
		for len(lines) < n {
			i := bytes.LastIndexByte(data, '\n')
			if i < 0 {
				break
			}
			// a terminator at end of file does not open another line
			if sawBreak || i+1 < len(data) {
				lines = append(lines, clip(data[i+1:]))
			}
			sawBreak = true
			data = data[:i]
		}
		if len(data) > MaxLineBytes {
			data = data[len(data)-MaxLineBytes:]
		}
		rest = data
	}
	if pos == 0 && len(lines) < n && (len(rest) > 0 || sawBreak) {
		lines = append(lines, clip(rest))
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

func clip(b []byte) string {
	b = bytes.TrimRight(b, "\r")
	if len(b) > MaxLineBytes {
		b = b[len(b)-MaxLineBytes:]
	}
	return string(b)
}
