// ABOUTME: File-based Backend storing one JSON document per conversation plus index.json
// ABOUTME: Writes go through a temp file and rename so readers never see partial documents

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	conversationsDir   = "conversations"
	conversationPrefix = "conversation_"
	conversationSuffix = ".json"
	indexFileName      = "index.json"
)

// FileBackend implements Backend on a directory tree:
//
//	<dir>/index.json
//	<dir>/conversations/conversation_<id>.json
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory layout under dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, conversationsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the root directory of the backend.
func (b *FileBackend) Dir() string { return b.dir }

func fileName(id string) string {
	return conversationPrefix + id + conversationSuffix
}

func (b *FileBackend) conversationPath(id string) string {
	return filepath.Join(b.dir, conversationsDir, fileName(id))
}

func (b *FileBackend) LoadConversation(_ context.Context, id string) (*Conversation, error) {
	data, err := os.ReadFile(b.conversationPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return &conv, nil
}

func (b *FileBackend) SaveConversation(_ context.Context, conv *Conversation) (string, error) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding conversation: %w", err)
	}
	if err := writeFileAtomic(b.conversationPath(conv.ID), data); err != nil {
		return "", err
	}
	return fileName(conv.ID), nil
}

func (b *FileBackend) DeleteConversation(_ context.Context, id string) (bool, error) {
	err := os.Remove(b.conversationPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing conversation: %w", err)
	}
	return true, nil
}

func (b *FileBackend) ConversationExists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(b.conversationPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking conversation: %w", err)
	}
	return true, nil
}

func (b *FileBackend) ListConversationIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.dir, conversationsDir))
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, conversationPrefix) || !strings.HasSuffix(name, conversationSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, conversationPrefix), conversationSuffix))
	}
	return ids, nil
}

func (b *FileBackend) LoadIndex(_ context.Context) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return entries, nil
}

func (b *FileBackend) SaveIndex(_ context.Context, entries []IndexEntry) error {
	if entries == nil {
		entries = []IndexEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return writeFileAtomic(filepath.Join(b.dir, indexFileName), data)
}

// Close is a no-op; the file backend holds no open handles between calls.
func (b *FileBackend) Close() error { return nil }

// writeFileAtomic writes data to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
