package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// ErrInvalidRef is returned for references that escape the storage root.
var ErrInvalidRef = errors.New("invalid attachment reference")

// Attachment describes a stored file.
type Attachment struct {
	Ref          string
	OriginalName string
	Size         int64
}

// AttachmentStore keeps uploaded notification attachments on local disk.
type AttachmentStore struct {
	baseDir  string
	maxBytes int64
	now      func() time.Time
}

// NewAttachmentStore ensures baseDir exists.
func NewAttachmentStore(baseDir string, maxBytes int64) (*AttachmentStore, error) {
	if baseDir == "" {
		baseDir = "./attachments"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments directory: %w", err)
	}
	return &AttachmentStore{baseDir: baseDir, maxBytes: maxBytes, now: time.Now}, nil
}

// Save copies r to a new file and returns its reference. The reference is
// <yyyy/mm>/<uuid><ext> and never contains the caller supplied name.
func (s *AttachmentStore) Save(originalName string, r io.Reader) (*Attachment, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if len(ext) > 10 {
		ext = ""
	}
	ref := path.Join(s.now().UTC().Format("2006/01"), uuid.NewString()+ext)
	target := filepath.Join(s.baseDir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("prepare attachment directory: %w", err)
	}

	file, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, copyErr := io.Copy(file, src)
	closeErr := file.Close()
	if copyErr == nil && s.maxBytes > 0 && written > s.maxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(target)
		if errors.Is(copyErr, ErrTooLarge) {
			return nil, copyErr
		}
		return nil, fmt.Errorf("write attachment: %w", copyErr)
	}

	return &Attachment{Ref: ref, OriginalName: filepath.Base(originalName), Size: written}, nil
}

// Open returns a reader for ref.
func (s *AttachmentStore) Open(ref string) (io.ReadCloser, error) {
	target, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return file, nil
}

// Delete removes ref if present.
func (s *AttachmentStore) Delete(ref string) error {
	target, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

func (s *AttachmentStore) resolve(ref string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(ref))
	if clean == "/" || strings.Contains(ref, "..") {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
