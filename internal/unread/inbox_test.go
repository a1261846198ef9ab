package unread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/dashsync/internal/adminapi"
)

func TestInboxOpenAddsIDAndRefreshes(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{total: 3}
	rec, seen := newTestReconciler(t, source)
	inbox := NewInbox(seen, rec, nil)
	activate(t, rec, source)

	source.set(4, nil)
	require.NoError(t, inbox.Open(ctx, 11))
	require.Equal(t, 2, source.callCount())
	require.Equal(t, 4, rec.Snapshot().Unread)

	ids, err := inbox.ReadIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{11}, ids)

	// Opening a message does not move the seen count.
	stored, err := seen.SeenCount(ctx)
	require.NoError(t, err)
	require.Zero(t, stored)
}

func TestInboxOpenWhileInactiveStillRecords(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{total: 3}
	rec, seen := newTestReconciler(t, source)
	inbox := NewInbox(seen, rec, nil)

	require.NoError(t, inbox.Open(ctx, 2))
	read, err := seen.IsRead(ctx, 2)
	require.NoError(t, err)
	require.True(t, read)
	require.Zero(t, source.callCount())
}

func TestInboxMarkAllRead(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{total: 9}
	rec, seen := newTestReconciler(t, source)
	inbox := NewInbox(seen, rec, nil)
	activate(t, rec, source)

	require.NoError(t, inbox.MarkAllRead(ctx, []int64{4, 2, 4}))
	require.Zero(t, rec.Snapshot().Unread)

	stored, err := seen.SeenCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, stored)
	ids, err := seen.ReadIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 4}, ids)
}

func TestInboxMarkAllReadInactiveKeepsIDs(t *testing.T) {
	ctx := context.Background()
	rec, seen := newTestReconciler(t, &fakeSource{})
	inbox := NewInbox(seen, rec, nil)

	require.ErrorIs(t, inbox.MarkAllRead(ctx, []int64{1}), ErrInactive)
	ids, err := seen.ReadIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestInboxAnnotate(t *testing.T) {
	ctx := context.Background()
	rec, seen := newTestReconciler(t, &fakeSource{})
	inbox := NewInbox(seen, rec, nil)
	_, err := seen.AddReadIDs(ctx, 2)
	require.NoError(t, err)

	created := "2024-01-02T03:04:05Z"
	rows, err := inbox.Annotate(ctx, []adminapi.ContactMessage{
		{ID: 3, FullName: "Grace", Type: adminapi.MessageTypeSupport, CreatedAt: created},
		{ID: 2, FullName: "Alan", Type: adminapi.MessageTypeSales, CreatedAt: created},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.EqualValues(t, 3, rows[0].ID)
	require.False(t, rows[0].Read)
	require.EqualValues(t, 2, rows[1].ID)
	require.True(t, rows[1].Read)

	rows, err = inbox.Annotate(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, rows)
	require.Empty(t, rows)
}
