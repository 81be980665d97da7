// Package archive keeps an optional audit copy of dispatched submissions:
// a row in PostgreSQL and the composed message in an S3 bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/mail"
	"github.com/zifrone/contact/internal/metrics"
	"github.com/zifrone/contact/internal/ratelimit"
)

// Archive targets, used as metric labels
const (
	TargetDatabase = "database"
	TargetStorage  = "storage"
)

// Archiver writes dispatched submissions to the configured targets.
// Either target may be nil.
type Archiver struct {
	records RecordStore
	objects ObjectWriter
	prefix  string
	log     *slog.Logger
}

// NewArchiver creates an Archiver. At least one target is required.
func NewArchiver(records RecordStore, objects ObjectWriter, prefix string, log *slog.Logger) (*Archiver, error) {
	if records == nil && objects == nil {
		return nil, errors.New("archive: no target configured")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{records: records, objects: objects, prefix: prefix, log: log}, nil
}

// Archive stores the message first so the row can reference its key. A
// failed upload still writes the row with an empty key.
func (a *Archiver) Archive(ctx context.Context, sub contact.Submission, meta contact.Meta, msg *mail.Message) error {
	var errs []error

	key := ""
	if a.objects != nil && msg != nil {
		if err := a.putMessage(ctx, meta, msg); err != nil {
			metrics.ArchiveFailuresTotal.WithLabelValues(TargetStorage).Inc()
			a.log.Error("archive upload failed", slog.String("submission_id", meta.ID), slog.Any("error", err))
			errs = append(errs, err)
		} else {
			key = MessageKey(a.prefix, meta.ID, meta.ReceivedAt)
		}
	}

	if a.records != nil {
		rec := NewRecord(sub, meta, key)
		if err := a.records.Insert(ctx, rec); err != nil {
			metrics.ArchiveFailuresTotal.WithLabelValues(TargetDatabase).Inc()
			a.log.Error("archive insert failed", slog.String("submission_id", meta.ID), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Archiver) putMessage(ctx context.Context, meta contact.Meta, msg *mail.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	return a.objects.Put(ctx, MessageKey(a.prefix, meta.ID, meta.ReceivedAt), raw)
}

// NewRecord builds the row for a submission. The client identity is stored
// only as a hash.
func NewRecord(sub contact.Submission, meta contact.Meta, messageKey string) *Record {
	return &Record{
		ID:         meta.ID,
		ReceivedAt: meta.ReceivedAt.UTC(),
		Name:       sub.Name,
		Email:      sub.Email,
		Company:    sub.Company,
		WhatsApp:   sub.WhatsApp,
		Subject:    sub.Subject,
		Message:    sub.Message,
		ClientHash: ratelimit.HashIdentity(meta.ClientIdentity),
		UserAgent:  meta.UserAgent,
		Referer:    meta.Referer,
		MessageKey: messageKey,
	}
}

// Purger removes archived data older than a retention period
type Purger struct {
	repo    *Repository
	objects *ObjectStore
	log     *slog.Logger
	now     func() time.Time
}

// NewPurger creates a Purger. objects may be nil.
func NewPurger(repo *Repository, objects *ObjectStore, log *slog.Logger) *Purger {
	if log == nil {
		log = slog.Default()
	}
	return &Purger{repo: repo, objects: objects, log: log, now: time.Now}
}

// Purge deletes rows older than retention and the objects they reference
func (p *Purger) Purge(ctx context.Context, retention time.Duration) (int, error) {
	rows, err := p.repo.DeleteBefore(ctx, p.now().Add(-retention))
	if err != nil {
		return 0, err
	}

	var keys []string
	for _, k := range rows {
		if k != "" {
			keys = append(keys, k)
		}
	}

	deleted := 0
	if p.objects != nil && len(keys) > 0 {
		deleted, err = p.objects.DeleteByKeys(ctx, keys)
		if err != nil {
			return len(rows), err
		}
	}
	if len(rows) > 0 {
		p.log.Info("archive purged", slog.Int("rows", len(rows)), slog.Int("objects", deleted))
	}
	return len(rows), nil
}

// Start runs Purge every interval until ctx is done
func (p *Purger) Start(ctx context.Context, retention, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.Purge(ctx, retention); err != nil {
					p.log.Error("archive purge failed", slog.Any("error", err))
				}
			}
		}
	}()
}
