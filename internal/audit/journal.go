package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Baaaki/roomcast/pkg/logger"
	"go.uber.org/zap"
)

type Action string

const (
	ActionMessageRemoved   Action = "message.removed_by_moderator"
	ActionOwnershipChanged Action = "room.ownership_transferred"
	ActionRoomDeleted      Action = "room.deleted"
	ActionAdminChanged     Action = "room.admin_changed"
)

// Entry is one moderation record.
type Entry struct {
	ID           string    `json:"id"`
	Action       Action    `json:"action"`
	ActorID      uint      `json:"actor_id"`
	RoomID       uint      `json:"room_id"`
	MessageID    uint      `json:"message_id,omitempty"`
	TargetUserID uint      `json:"target_user_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Journal is an append-only JSON-lines file. Every append is fsynced.
type Journal struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

func OpenJournal(filePath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Journal{filePath: filePath, file: file}, nil
}

func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit.Append marshal: %w", err)
	}

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit.Append write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("audit.Append sync: %w", err)
	}
	return nil
}

func (j *Journal) ReadAll() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readAllLocked()
}

// Compact drops entries older than cutoff by rewriting the file.
func (j *Journal) Compact(cutoff time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAllLocked()
	if err != nil {
		return 0, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	dropped := len(entries) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	tmp := j.filePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	for _, e := range kept {
		data, _ := json.Marshal(e)
		w.Write(append(data, '\n'))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, err
	}
	f.Close()

	if err := j.file.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return 0, err
	}

	// reopen; the old descriptor points at the replaced file
	file, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return 0, err
	}
	j.file = file

	logger.Log.Info("Audit journal compacted",
		zap.Int("dropped", dropped),
		zap.Int("remaining", len(kept)),
	)
	return dropped, nil
}

func (j *Journal) readAllLocked() ([]Entry, error) {
	file, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
