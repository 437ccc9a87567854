// Package memory announces document events to the log instead of a broker.
// It backs the dry-run notify provider and keeps what it saw for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

// Announcement is one DocumentEvent that would have been published.
type Announcement struct {
	Topic string
	Event crawler.DocumentEvent
}

// Publisher logs each DocumentEvent and keeps it in memory.
type Publisher struct {
	mu     sync.RWMutex
	seen   []Announcement
	logger *zap.Logger
}

// New returns a dry-run Publisher. A nil logger discards the log lines.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish implements crawler.Publisher. Only DocumentEvent payloads are
// accepted.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var event crawler.DocumentEvent
	switch v := payload.(type) {
	case crawler.DocumentEvent:
		event = v
	case *crawler.DocumentEvent:
		if v == nil {
			return "", fmt.Errorf("nil document event")
		}
		event = *v
	default:
		return "", fmt.Errorf("unsupported payload type %T", payload)
	}

	p.mu.Lock()
	p.seen = append(p.seen, Announcement{Topic: topic, Event: event})
	id := fmt.Sprintf("dry-run-%d", len(p.seen))
	p.mu.Unlock()

	p.logger.Info("Document event (dry run)",
		zap.String("message_id", id),
		zap.String("topic", topic),
		zap.String("url_hash", event.URLHash),
		zap.String("source_name", event.SourceName),
		zap.Int("bytes", event.Bytes),
		zap.String("blob_uri", event.BlobURI),
	)
	return id, nil
}

// Announcements returns a copy of every event seen so far.
func (p *Publisher) Announcements() []Announcement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Announcement, len(p.seen))
	copy(out, p.seen)
	return out
}
