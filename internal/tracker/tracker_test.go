package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"adlaunch/internal/model"

	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndReadBack(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordOutcome(ctx, Outcome{
		SessionID:    "batch-2025-06-01",
		SetName:      "Milfs",
		Variant:      model.VariantIOS,
		CampaignName: "US_EN_NATIVE_CPA_ALL_KEY-Milfs_iOS_M_JB",
		Status:       model.StatusSucceeded,
		EntityID:     "1013099001",
		AdsUploaded:  12,
		Duration:     90 * time.Second,
	}))
	require.NoError(t, l.RecordOutcome(ctx, Outcome{
		SessionID: "batch-2025-06-01",
		SetName:   "Milfs",
		Variant:   model.VariantAndroid,
		Status:    model.StatusFailed,
		Error:     "creatives not valid: 77,88",
		Reason:    model.ReasonValidation,
	}))

	rows, err := l.SessionRows(ctx, "batch-2025-06-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, model.StatusSucceeded, rows[0].Status)
	require.Equal(t, "1013099001", rows[0].EntityID)
	require.Equal(t, 12, rows[0].AdsUploaded)
	require.EqualValues(t, 90000, rows[0].DurationMS)

	require.Equal(t, model.StatusFailed, rows[1].Status)
	require.Equal(t, model.ReasonValidation, rows[1].Reason)
	require.Empty(t, rows[1].EntityID)
}

func TestRecentRowsNewestFirst(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for _, set := range []string{"A", "B", "C"} {
		require.NoError(t, l.RecordOutcome(ctx, Outcome{
			SessionID: "s", SetName: set, Variant: model.VariantDesktop,
			Status: model.StatusSucceeded,
		}))
	}

	rows, err := l.RecentRows(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "C", rows[0].SetName)
	require.Equal(t, "B", rows[1].SetName)
}

func TestSessionRowsEmptyForUnknownSession(t *testing.T) {
	l := openTestLedger(t)

	rows, err := l.SessionRows(context.Background(), "never-ran")
	require.NoError(t, err)
	require.Empty(t, rows)
}
