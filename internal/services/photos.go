package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PhotoURLPrefix is the public path photos are served under.
const PhotoURLPrefix = "/uploads/"

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

// PhotoStore writes uploaded report photos to a local directory.
type PhotoStore struct {
	dir    string
	logger *zap.SugaredLogger
}

// NewPhotoStore creates the upload directory if needed.
func NewPhotoStore(dir string, logger *zap.SugaredLogger) (*PhotoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &PhotoStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory photos are written to.
func (p *PhotoStore) Dir() string {
	return p.dir
}

// Save copies r into a new uniquely named file and returns its public reference.
// The uploaded filename only contributes its extension.
func (p *PhotoStore) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !photoExtensions[ext] {
		ext = ".jpg"
	}
	name := fmt.Sprintf("photo-%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)

	f, err := os.OpenFile(filepath.Join(p.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filepath.Join(p.dir, name))
		return "", fmt.Errorf("write photo: %w", err)
	}

	p.logger.Debugw("Photo stored", "name", name, "bytes", n)
	return PhotoURLPrefix + name, nil
}

// Remove deletes a photo previously returned by Save. References outside
// the store are ignored.
func (p *PhotoStore) Remove(ref string) error {
	name := strings.TrimPrefix(ref, PhotoURLPrefix)
	if name == ref || name == "" || name != filepath.Base(name) {
		return nil
	}
	if err := os.Remove(filepath.Join(p.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove photo: %w", err)
	}
	return nil
}
