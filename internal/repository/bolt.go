package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/domain"
)

var bucketConversations = []byte("conversations")

// Bolt keeps conversation snapshots in a local BoltDB file, one key per chat
// id. It is a blocking backend.
type Bolt struct {
	db *bolt.DB
}

var _ conversation.SyncBackend = (*Bolt)(nil)

// OpenBolt opens (creating if needed) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: bolt path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: OpenBolt: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: OpenBolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: OpenBolt: create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Capability() conversation.Capability { return conversation.Synchronous }

func (b *Bolt) put(tx *bolt.Tx, rec domain.ConversationRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketConversations).Put([]byte(rec.ChatID), raw)
}

func (b *Bolt) Save(ctx context.Context, c *conversation.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil {
		return errors.New("repository: Save: conversation must not be nil")
	}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return b.put(tx, c.Record())
	}); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (b *Bolt) Load(ctx context.Context, chatID string) (*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketConversations).Get([]byte(chatID)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	if raw == nil {
		return nil, conversation.ErrNotFound
	}
	return decodeConversation(raw)
}

func (b *Bolt) GetOrCreate(ctx context.Context, chatID string, now time.Time) (*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chatID == "" {
		return nil, errors.New("repository: GetOrCreate: chat id must not be empty")
	}
	var out *conversation.Conversation
	err := b.db.Update(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketConversations).Get([]byte(chatID)); v != nil {
			c, err := decodeConversation(v)
			if err != nil {
				return err
			}
			out = c
			return nil
		}
		out = conversation.New(chatID, now)
		return b.put(tx, out.Record())
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetOrCreate: %w", err)
	}
	return out, nil
}

func (b *Bolt) Delete(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Delete([]byte(chatID))
	})
}

// ListAll returns every readable snapshot, oldest first. Malformed entries
// are skipped rather than failing the whole listing.
func (b *Bolt) ListAll(ctx context.Context) ([]*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*conversation.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			c, err := decodeConversation(v)
			if err != nil {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAll: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}

// ClearAll recreates the bucket empty.
func (b *Bolt) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketConversations); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketConversations)
		return err
	})
}

func (b *Bolt) ClearHistory(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get([]byte(chatID))
		if v == nil {
			return conversation.ErrNotFound
		}
		var rec domain.ConversationRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("repository: ClearHistory decode: %w", err)
		}
		return b.put(tx, clearedRecord(rec))
	})
}
