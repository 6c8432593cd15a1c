package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/pkg/store"
)

// CommitTap decorates a Store so that every commit record written
// through it is also queued for archival. Enqueueing never blocks: when
// the queue is full the record is dropped and counted, preserving the
// decision path's latency at the cost of archive completeness.
type CommitTap struct {
	store.Store
	archiver *Archiver
	queue    chan store.CommitRecord
	logger   *slog.Logger
}

// NewCommitTap wraps inner with an archival queue of the given depth.
func NewCommitTap(inner store.Store, archiver *Archiver, depth int) *CommitTap {
	if depth <= 0 {
		depth = 256
	}
	return &CommitTap{
		Store:    inner,
		archiver: archiver,
		queue:    make(chan store.CommitRecord, depth),
		logger:   slog.Default().With("component", "archive.tap"),
	}
}

func (t *CommitTap) PutCommit(ctx context.Context, rec store.CommitRecord) error {
	if err := t.Store.PutCommit(ctx, rec); err != nil {
		return err
	}
	t.enqueue(ctx, rec)
	return nil
}

func (t *CommitTap) CommitWithNonce(ctx context.Context, nonce, tokenID string, expiresAt time.Time, rec store.CommitRecord) (store.NonceResult, error) {
	res, err := t.Store.CommitWithNonce(ctx, nonce, tokenID, expiresAt, rec)
	if err == nil && res == store.NonceInserted {
		t.enqueue(ctx, rec)
	}
	return res, err
}

func (t *CommitTap) enqueue(ctx context.Context, rec store.CommitRecord) {
	select {
	case t.queue <- rec:
	default:
		t.logger.WarnContext(ctx, "archive queue full, dropping record",
			"commit_id", rec.CommitID)
	}
}

// Run drains the queue until ctx is done. Upload failures are logged
// and the record is dropped; archival is not a durability guarantee.
func (t *CommitTap) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-t.queue:
			if err := t.archiver.Archive(ctx, rec); err != nil {
				t.logger.WarnContext(ctx, "archive upload failed",
					"commit_id", rec.CommitID, "error", err)
			}
		}
	}
}
