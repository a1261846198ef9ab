package unread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/dashsync/internal/persist"
)

func TestSeenCount(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored *string
		want   int
	}{
		{name: "absent", want: 0},
		{name: "decimal", stored: ptr("12"), want: 12},
		{name: "padded", stored: ptr(" 7 \n"), want: 7},
		{name: "malformed", stored: ptr("twelve"), want: 0},
		{name: "negative", stored: ptr("-4"), want: 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			kv := persist.NewMemory()
			if tc.stored != nil {
				require.NoError(t, kv.SetString(ctx, SeenCountKey, *tc.stored))
			}
			got, err := NewSeenStore(kv, nil).SeenCount(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSetSeenCountWritesDecimal(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	store := NewSeenStore(kv, nil)

	require.NoError(t, store.SetSeenCount(ctx, 42))
	raw, ok, err := kv.GetString(ctx, SeenCountKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", raw)

	require.NoError(t, store.SetSeenCount(ctx, -3))
	got, err := store.SeenCount(ctx)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestReadIDsGrowMonotonically(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	store := NewSeenStore(kv, nil)

	ids, err := store.ReadIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.NotNil(t, ids)

	ids, err = store.AddReadIDs(ctx, 9, 3, 9)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 9}, ids)

	ids, err = store.AddReadIDs(ctx, 5, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 5, 9}, ids)

	raw, _, err := kv.GetString(ctx, ReadIDsKey)
	require.NoError(t, err)
	require.JSONEq(t, `[3,5,9]`, raw)

	read, err := store.IsRead(ctx, 5)
	require.NoError(t, err)
	require.True(t, read)
	read, err = store.IsRead(ctx, 4)
	require.NoError(t, err)
	require.False(t, read)
}

func TestReadIDsToleratesMalformedDocument(t *testing.T) {
	ctx := context.Background()
	kv := persist.NewMemory()
	require.NoError(t, kv.SetString(ctx, ReadIDsKey, "{not json"))
	store := NewSeenStore(kv, nil)

	ids, err := store.ReadIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = store.AddReadIDs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestAddReadIDsConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewSeenStore(persist.NewMemory(), nil)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(id int64) {
			defer func() { done <- struct{}{} }()
			if _, err := store.AddReadIDs(ctx, id); err != nil {
				t.Errorf("add read id %d: %v", id, err)
			}
		}(int64(i))
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	ids, err := store.ReadIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 20)
}

func ptr(s string) *string { return &s }
