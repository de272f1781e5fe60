package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SpoolSubmitter hands report messages to the mail transmission engine
// through its pickup directory: the raw message and a sidecar envelope
// file are written atomically via rename.
type SpoolSubmitter struct {
	dir string
}

// envelope is the sidecar metadata the transmission engine needs.
type envelope struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Recipients []string  `json:"recipients"`
	QueuedAt   time.Time `json:"queued_at"`
}

// NewSpoolSubmitter creates a submitter spooling into dir.
func NewSpoolSubmitter(dir string) (*SpoolSubmitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &SpoolSubmitter{dir: dir}, nil
}

func (s *SpoolSubmitter) Submit(ctx context.Context, from string, recipients []string, message []byte) error {
	id := uuid.NewString()

	data, err := json.Marshal(envelope{
		ID:         id,
		From:       from,
		Recipients: recipients,
		QueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, id+".tmp")
	if err := os.WriteFile(tmp, message, 0o644); err != nil {
		return fmt.Errorf("failed to write spooled message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, id+".eml")); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit spooled message: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, id+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write spool envelope: %w", err)
	}
	return nil
}
