// Package syncq is the CLI's on-disk queue of offline runs waiting to be
// uploaded for verification.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"rippletrade/internal/game"
)

type Entry struct {
	Submission game.Submission `json:"submission"`
	QueuedAt   time.Time       `json:"queued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

func queuePath(home string) (string, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(home, "queue.json"), nil
}

func Load(home string) ([]Entry, error) {
	path, err := queuePath(home)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Entry{}, nil
	}
	var out []Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save rewrites the queue through a temp file so a crash never leaves it
// half written.
func Save(home string, entries []Entry) error {
	path, err := queuePath(home)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Push queues sub unless a submission with the same client run id is
// already queued.
func Push(home string, sub game.Submission) error {
	entries, err := Load(home)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Submission.ClientRunID == sub.ClientRunID {
			return nil
		}
	}
	entries = append(entries, Entry{Submission: sub, QueuedAt: time.Now().UTC()})
	return Save(home, entries)
}
