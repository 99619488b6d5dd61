package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/plugin"
)

func TestTrackerHooks(t *testing.T) {
	ctx := context.Background()
	tracker := New()

	var completed []ItemInfo
	tracker.OnItem = func(ctx context.Context, info ItemInfo) {
		completed = append(completed, info)
	}

	tracker.StartOperation(ctx, 2)

	ok := tracker.Hooks("prod", plugin.OpUpload, "a.txt")
	bad := tracker.Hooks("prod", plugin.OpUpload, "b.txt")

	ok.Before(ctx, "/a.txt")
	ok.Completed(ctx, nil)
	bad.Before(ctx, "/b.txt")
	bad.Completed(ctx, errors.New("denied"))

	items := tracker.Items()
	require.Len(t, items, 2)
	assert.Equal(t, StatusDone, items[0].Status)
	assert.Equal(t, "/a.txt", items[0].Destination)
	assert.Equal(t, StatusFailed, items[1].Status)
	assert.EqualError(t, items[1].Err, "denied")

	done, failed := tracker.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, failed)

	require.Len(t, completed, 2)
	assert.Equal(t, "a.txt", completed[0].Item)

	tracker.FinishOperation(ctx)
}

func TestTrackerHooksFireOncePerDescriptor(t *testing.T) {
	ctx := context.Background()
	tracker := New()

	calls := 0
	tracker.OnItem = func(context.Context, ItemInfo) { calls++ }

	h := tracker.Hooks("prod", plugin.OpDelete, "x")
	h.Completed(ctx, nil)
	h.Completed(ctx, errors.New("late"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusDone, tracker.Items()[0].Status)
}

func TestTrackerPendingItems(t *testing.T) {
	tracker := New()
	_ = tracker.Hooks("prod", plugin.OpUpload, "a")
	_ = tracker.Hooks("prod", plugin.OpUpload, "a")

	items := tracker.Items()
	require.Len(t, items, 1, "same item registers once")
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, "pending", items[0].Status.String())
}

func TestFormatter(t *testing.T) {
	f := NewDefaultFormatter()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"progress_partial", f.FormatProgress(1, 4), "⏳ Progress: 1/4 (25%)"},
		{"progress_complete", f.FormatProgress(4, 4), "✅ Progress: 4/4 (100%)"},
		{"progress_empty", f.FormatProgress(0, 0), "✅ Progress: 0/0 (0%)"},
		{"error", f.FormatError(errors.New("boom")), "❌ Error: boom"},
		{"no_error", f.FormatError(nil), ""},
		{"item_done", f.FormatItem(ItemInfo{Operation: plugin.OpUpload, Item: "a", Destination: "/a", Status: StatusDone}), "✨ upload /a"},
		{"item_failed", f.FormatItem(ItemInfo{Operation: plugin.OpDelete, Item: "b", Status: StatusFailed, Err: errors.New("gone")}), "❌ delete b: gone"},
		{"item_running", f.FormatItem(ItemInfo{Operation: plugin.OpDownload, Item: "c", Status: StatusRunning}), "⏳ download c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestRenderSummary(t *testing.T) {
	s := &plugin.Summary{}
	s.Record(plugin.Outcome{Target: "prod", Operation: plugin.OpUpload, Item: "a.txt"})
	s.Record(plugin.Outcome{Target: "backup", Operation: plugin.OpUpload, Item: "b.txt", Err: errors.New("quota exceeded")})

	out, err := RenderSummary(s)
	require.NoError(t, err)
	assert.Contains(t, out, "Target")
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "quota exceeded")
}
