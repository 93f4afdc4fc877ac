// Package storage provides the local filesystem object store.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// FilesystemStore keeps objects as files under a root directory and signs
// time-limited download URLs with HMAC-SHA256.
type FilesystemStore struct {
	root       string
	signingKey []byte
	baseURL    string
	now        func() time.Time
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root, signingKey, publicBaseURL string) (*FilesystemStore, error) {
	if signingKey == "" {
		return nil, errors.New("storage signing key is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FilesystemStore{
		root:       root,
		signingKey: []byte(signingKey),
		baseURL:    strings.TrimRight(publicBaseURL, "/"),
		now:        time.Now,
	}, nil
}

func (s *FilesystemStore) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid object key %q", key))
	}
	return filepath.Join(s.root, rel), nil
}

// Put writes the object atomically.
func (s *FilesystemStore) Put(ctx context.Context, key string, r io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewInternalError("failed to create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return apperrors.NewInternalError("failed to create temp object", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperrors.NewInternalError("failed to write object", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewInternalError("failed to close object", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.NewInternalError("failed to store object", err)
	}
	return nil
}

// Get opens the object for reading.
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open object", err)
	}
	return f, nil
}

// Exists reports whether the object is present.
func (s *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewInternalError("failed to stat object", err)
	}
	return true, nil
}

// DownloadURL returns a signed URL for GET /api/downloads valid for ttl.
func (s *FilesystemStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	if !exists {
		return "", time.Time{}, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key))
	}

	expiresAt := s.now().Add(ttl).UTC().Truncate(time.Second)
	expires := strconv.FormatInt(expiresAt.Unix(), 10)

	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", expires)
	q.Set("sig", s.sign(key, expires))
	return s.baseURL + "/api/downloads?" + q.Encode(), expiresAt, nil
}

// Verify checks a download signature and its expiry.
func (s *FilesystemStore) Verify(key, expires, sig string) error {
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return apperrors.NewValidationError("invalid download signature")
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return apperrors.NewValidationError("invalid download expiry")
	}
	if s.now().Unix() > unix {
		return apperrors.NewValidationError("download link expired")
	}
	return nil
}

func (s *FilesystemStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
