package unread

import (
	"context"
	"log/slog"

	"github.com/l0p7/dashsync/internal/adminapi"
	"github.com/l0p7/dashsync/internal/logging"
)

// Row is a contact message with its per-item read flag.
type Row struct {
	adminapi.ContactMessage
	Read bool `json:"read"`
}

// Inbox layers per-message read tracking over a Reconciler.
type Inbox struct {
	seen       *SeenStore
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewInbox(seen *SeenStore, reconciler *Reconciler, logger *slog.Logger) *Inbox {
	return &Inbox{seen: seen, reconciler: reconciler, logger: logging.Agent(logger, "inbox")}
}

// Open marks id read and refreshes the badge. Refresh failures are logged
// only; the read id is kept either way.
func (i *Inbox) Open(ctx context.Context, id int64) error {
	if _, err := i.seen.AddReadIDs(ctx, id); err != nil {
		return storageFailure(err)
	}
	if err := i.reconciler.Refresh(ctx); err != nil {
		i.logger.Debug("refresh after open failed", slog.Int64("id", id), slog.Any("error", err))
	}
	return nil
}

// MarkAllRead adds ids to the read set and then marks everything seen. The two
// writes are independent; a failure in the second keeps the first.
func (i *Inbox) MarkAllRead(ctx context.Context, ids []int64) error {
	if _, err := i.seen.AddReadIDs(ctx, ids...); err != nil {
		return storageFailure(err)
	}
	return i.reconciler.MarkAllSeen(ctx)
}

func (i *Inbox) ReadIDs(ctx context.Context) ([]int64, error) {
	return i.seen.ReadIDs(ctx)
}

// Annotate pairs each message with its read flag, preserving order.
func (i *Inbox) Annotate(ctx context.Context, messages []adminapi.ContactMessage) ([]Row, error) {
	ids, err := i.seen.ReadIDs(ctx)
	if err != nil {
		return nil, err
	}
	read := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		read[id] = struct{}{}
	}
	rows := make([]Row, 0, len(messages))
	for _, msg := range messages {
		_, ok := read[msg.ID]
		rows = append(rows, Row{ContactMessage: msg, Read: ok})
	}
	return rows, nil
}
