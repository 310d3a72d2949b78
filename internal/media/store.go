// Package media stores generated map artwork on local disk and hands out the
// public URLs the API serves them under.
package media

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/carequest/questmap-backend/internal/platform/envutil"
	"github.com/carequest/questmap-backend/internal/platform/logger"
)

// SavedImage identifies one stored artwork file both on disk and over HTTP.
type SavedImage struct {
	Path string // absolute filesystem path
	URL  string // public path, e.g. /maps/<file>.png
}

// Store persists map artwork. Implementations must be safe for concurrent use.
type Store interface {
	// SaveMapImage writes one panel to disk. consultationID and mapIndex only
	// shape the filename; uniqueness comes from a random suffix.
	SaveMapImage(consultationID string, mapIndex int, data []byte, mimeType string) (SavedImage, error)

	// Load reads a previously saved panel back, for continuation edits.
	Load(path string) ([]byte, error)

	// Dir is the directory the HTTP layer serves under /maps.
	Dir() string
}

type diskStore struct {
	log *logger.Logger
	dir string
}

// NewDiskStore creates the maps directory if needed. The location comes from
// MAPS_DIR and defaults to ./uploads/maps.
func NewDiskStore(log *logger.Logger) (Store, error) {
	dir := envutil.Str("MAPS_DIR", filepath.Join("uploads", "maps"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create maps dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &diskStore{log: log.With("service", "MediaStore"), dir: abs}, nil
}

func extForMime(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func (s *diskStore) SaveMapImage(consultationID string, mapIndex int, data []byte, mimeType string) (SavedImage, error) {
	if len(data) == 0 {
		return SavedImage{}, fmt.Errorf("empty image data")
	}

	name := fmt.Sprintf("map_%s_%d_%s%s",
		sanitizeIDPart(consultationID), mapIndex, uuid.NewString()[:8], extForMime(mimeType))
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return SavedImage{}, fmt.Errorf("write map image: %w", err)
	}
	s.log.Debug("Map image saved", "path", path, "bytes", len(data))
	return SavedImage{Path: path, URL: "/maps/" + name}, nil
}

func (s *diskStore) Load(path string) ([]byte, error) {
	// Refuse reads outside the maps directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(abs, s.dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("path outside maps dir: %s", path)
	}
	return os.ReadFile(abs)
}

func (s *diskStore) Dir() string { return s.dir }

func sanitizeIDPart(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	var sb strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// DataURL encodes image bytes as a data: URL suitable for multimodal model
// input.
func DataURL(data []byte, mimeType string) string {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
