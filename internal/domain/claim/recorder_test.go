package claim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditLogFunc func(ctx context.Context, event Event) error

func (f auditLogFunc) InsertClaimLog(ctx context.Context, event Event) error { return f(ctx, event) }

func TestRecorderHandleClaim(t *testing.T) {
	var got []Event
	r := NewRecorder(auditLogFunc(func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	}), nil)

	require.NoError(t, r.HandleClaim(context.Background(), Event{TokenHash: "h", PurchaseID: "PUR-1"}))
	require.NoError(t, r.HandleClaim(context.Background(), Event{PurchaseID: "PUR-2"}))
	require.Len(t, got, 1)
	assert.Equal(t, "PUR-1", got[0].PurchaseID)
}

func TestRecorderPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	r := NewRecorder(auditLogFunc(func(context.Context, Event) error { return boom }), nil)
	require.ErrorIs(t, r.HandleClaim(context.Background(), Event{TokenHash: "h"}), boom)
}
