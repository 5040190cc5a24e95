package media

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store writes decoded binary payloads to a dedicated directory and hands the
// relay a reference string to carry instead of the raw bytes.
type Store struct {
	dir string
}

// NewStore ensures the media directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save decodes a base64 payload and writes it under a collision-resistant
// name. Oversized payloads never reach here; the websocket read limit rejects
// them at the transport.
func (s *Store) Save(payload string, kind string, senderID int64) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode media payload: %w", err)
	}

	name := fmt.Sprintf("%s_%d_%s.jpg", kind, senderID, uuid.NewString())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return path, nil
}
