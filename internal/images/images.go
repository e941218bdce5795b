// Package images stores uploaded photographs on local disk.
package images

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrImageNotFound     = errors.New("image not found")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrImageTooLarge     = errors.New("image exceeds size limit")
	ErrInvalidRef        = errors.New("invalid image reference")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Supported reports whether mime is one of the accepted image formats.
func Supported(mime string) bool {
	_, ok := extensions[mime]
	return ok
}

// Store saves and loads images by opaque reference.
type Store interface {
	Save(ctx context.Context, r io.Reader) (ref string, mime string, err error)
	Load(ctx context.Context, ref string) (data []byte, mime string, err error)
}

// LocalStore keeps images as files under a single directory. A ref is the
// file name.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates dir if needed. maxBytes <= 0 disables the size limit.
func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save sniffs the content type, rejects anything but JPEG, PNG and WebP, and
// writes the image under a random name.
func (s *LocalStore) Save(_ context.Context, r io.Reader) (string, string, error) {
	limit := s.maxBytes
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("reading image: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", "", ErrImageTooLarge
	}

	mime := http.DetectContentType(data)
	ext, ok := extensions[mime]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
	}

	var name [16]byte
	if _, err := rand.Read(name[:]); err != nil {
		return "", "", fmt.Errorf("generating image name: %w", err)
	}
	ref := hex.EncodeToString(name[:]) + ext

	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing image: %w", err)
	}
	return ref, mime, nil
}

func (s *LocalStore) Load(_ context.Context, ref string) ([]byte, string, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

// path resolves ref inside the store directory. Refs containing separators
// or parent references are rejected.
func (s *LocalStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.Contains(ref, "..") || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

var _ Store = (*LocalStore)(nil)
