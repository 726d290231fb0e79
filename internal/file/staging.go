package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const sniffLength = 3072

// Stager copies incoming payloads into temporary files.
type Stager struct {
	fs  afero.Fs
	dir string
}

// NewStager builds a Stager writing under dir on fs.
func NewStager(fs afero.Fs, dir string) *Stager {
	return &Stager{fs: fs, dir: dir}
}

// StagedFile is a payload copied to a temporary file and rewound for reading.
type StagedFile struct {
	afero.File
	Size     int64
	Checksum string
	Head     []byte

	fs afero.Fs
}

// Stage copies at most limit+1 bytes of src so callers can detect oversize
// payloads without buffering them whole. The caller must call Cleanup.
func (s *Stager) Stage(src io.Reader, limit int64) (*StagedFile, error) {
	tmp, err := afero.TempFile(s.fs, s.dir, "drop24-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	staged := &StagedFile{File: tmp, fs: s.fs}

	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	hasher := sha256.New()
	head := &prefixWriter{max: sniffLength}
	size, err := io.Copy(io.MultiWriter(tmp, hasher, head), src)
	if err != nil {
		staged.Cleanup()
		return nil, fmt.Errorf("stage payload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		staged.Cleanup()
		return nil, fmt.Errorf("rewind staged payload: %w", err)
	}

	staged.Size = size
	staged.Checksum = hex.EncodeToString(hasher.Sum(nil))
	staged.Head = head.buf
	return staged, nil
}

// Cleanup closes and removes the temporary file. Safe to call more than once.
func (f *StagedFile) Cleanup() {
	if f == nil || f.File == nil {
		return
	}
	name := f.File.Name()
	_ = f.File.Close()
	_ = f.fs.Remove(name)
	f.File = nil
}

type prefixWriter struct {
	buf []byte
	max int
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if room := w.max - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
