package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ppiankov/trustplane/internal/fault"
)

// FileStore is an append-only JSONL ledger backend. All events are also
// held in a memory index for the query surface; the file is the durable
// record. Lines are fsynced per append so a crash loses at most the
// event being written.
type FileStore struct {
	mem  *MemoryStore
	path string
	file *os.File
}

// OpenFileStore opens (or creates) a JSONL ledger and replays it into
// the index. A malformed line aborts the open: a ledger that cannot be
// replayed must not silently keep appending.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fault.Internal(err, "create ledger directory")
	}

	mem := NewMemoryStore()
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if err := replayFile(path, mem); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fault.Internal(err, "open ledger file")
	}
	return &FileStore{mem: mem, path: path, file: file}, nil
}

func replayFile(path string, mem *MemoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		return fault.Internal(err, "read ledger file")
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return fault.Internal(err, "ledger line %d unreadable", line)
		}
		if err := mem.Append(context.Background(), e); err != nil {
			return fault.Internal(err, "ledger line %d out of chain order", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fault.Internal(err, "scan ledger file")
	}
	return nil
}

// Append writes the event to the index, then the file, then syncs.
func (s *FileStore) Append(ctx context.Context, e Event) error {
	if err := s.mem.Append(ctx, e); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fault.Internal(err, "marshal event %s", e.EventID)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fault.Internal(err, "write event %s", e.EventID)
	}
	if err := s.file.Sync(); err != nil {
		return fault.Internal(err, "sync ledger")
	}
	return nil
}

func (s *FileStore) ByID(ctx context.Context, eventID string) (Event, error) {
	return s.mem.ByID(ctx, eventID)
}

func (s *FileStore) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	return s.mem.ByCorrelation(ctx, correlationID)
}

func (s *FileStore) ByAgent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	return s.mem.ByAgent(ctx, agentID, limit)
}

func (s *FileStore) ByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	return s.mem.ByType(ctx, eventType, limit)
}

func (s *FileStore) Range(ctx context.Context, fromPosition uint64, limit int) ([]Event, error) {
	return s.mem.Range(ctx, fromPosition, limit)
}

func (s *FileStore) Head(ctx context.Context) (Event, bool, error) {
	return s.mem.Head(ctx)
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	return s.mem.Stats(ctx)
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	return s.file.Close()
}

var _ Store = (*FileStore)(nil)
