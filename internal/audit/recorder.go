package audit

import (
	"context"
	"time"

	"github.com/Baaaki/roomcast/internal/metrics"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder accepts moderation records. Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Auditor writes entries to the journal and forwards them to the publisher.
// Either may be nil.
type Auditor struct {
	journal   *Journal
	publisher Publisher
}

func NewAuditor(journal *Journal, publisher Publisher) *Auditor {
	return &Auditor{journal: journal, publisher: publisher}
}

func (a *Auditor) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if a.journal != nil {
		if err := a.journal.Append(entry); err != nil {
			logger.Log.Error("Failed to append audit entry",
				zap.String("action", string(entry.Action)),
				zap.Error(err),
			)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, entry); err != nil {
			metrics.AuditPublishError()
			logger.Log.Warn("Failed to publish audit entry",
				zap.String("action", string(entry.Action)),
				zap.Error(err),
			)
		}
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, Entry) {}
