package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/internal/consistency"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/testutil"
)

func judgment(txID string) *facts.JudgmentDecision {
	return &facts.JudgmentDecision{
		Decision:             facts.DecisionBlock,
		PolicyApplied:        2,
		Reasoning:            "User has previous fraud violations on record",
		ActionRequired:       "Block and notify fraud team",
		HumanOverrideAllowed: true,
		Confidence:           92,
		TransactionID:        txID,
		RiskScore:            60,
	}
}

func entryAt(txID string, at time.Time) *Entry {
	e := NewEntry(SourceEngine, &facts.InvestigationReport{TransactionID: txID}, judgment(txID), nil)
	e.CreatedAt = at
	return e
}

func TestNewEntry(t *testing.T) {
	report := &consistency.Report{Discrepancies: []consistency.Discrepancy{
		{Kind: consistency.KindPolicyMismatch, Severity: consistency.SeverityWarning, Message: "x"},
	}}
	e := NewEntry(SourceExternal, nil, judgment("tx_1"), report)

	assert.Len(t, e.ID, 36)
	assert.Equal(t, "tx_1", e.TransactionID)
	assert.Equal(t, facts.DecisionBlock, e.Decision)
	assert.Equal(t, 2, e.PolicyApplied)
	assert.False(t, e.Consistent)
	assert.Len(t, e.Discrepancies, 1)

	clean := NewEntry(SourceEngine, nil, judgment("tx_2"), nil)
	assert.True(t, clean.Consistent)
	assert.NotNil(t, clean.Discrepancies)
	assert.NotEqual(t, e.ID, clean.ID)
}

func TestMemoryStore_ListByTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now().UTC()

	require.NoError(t, store.Record(ctx, entryAt("tx_1", base)))
	require.NoError(t, store.Record(ctx, entryAt("tx_2", base.Add(time.Second))))
	newest := entryAt("tx_1", base.Add(2*time.Second))
	require.NoError(t, store.Record(ctx, newest))

	got, err := store.ListByTransaction(ctx, "tx_1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newest.ID, got[0].ID)

	got, err = store.ListByTransaction(ctx, "tx_1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	fetched, err := store.Get(ctx, newest.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx_1", fetched.TransactionID)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, entryAt("tx", base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := store.List(ctx, ListQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, page[0].CreatedAt.Equal(base.Add(4*time.Minute)))

	cursor, err := DecodeCursor(CursorAfter(page[len(page)-1], "").Encode(), "")
	require.NoError(t, err)

	rest, err := store.List(ctx, ListQuery{Limit: 3, After: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.True(t, rest[0].CreatedAt.Equal(base.Add(time.Minute)))
}

type failingStore struct{ *MemoryStore }

func (failingStore) Record(context.Context, *Entry) error { return errors.New("disk full") }

func TestRecorder_WritesAsynchronously(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := NewEntry(SourceEngine, nil, judgment("tx_async"), nil)
	rec.Record(e)
	rec.Wait()

	got, err := rec.Store().ListByTransaction(context.Background(), "tx_async", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecorder_SwallowsErrors(t *testing.T) {
	rec := NewRecorder(failingStore{NewMemoryStore()}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec.Record(NewEntry(SourceFallback, nil, facts.ErrorJudgment("tx_err", errors.New("boom")), nil))
	rec.Wait()
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	base := time.Now().UTC().Truncate(time.Microsecond)
	first := entryAt("tx_pg", base)
	second := NewEntry(SourceExternal, &facts.InvestigationReport{TransactionID: "tx_pg", RiskScore: 60}, judgment("tx_pg"),
		&consistency.Report{Discrepancies: []consistency.Discrepancy{
			{Kind: consistency.KindDecisionMismatch, Severity: consistency.SeverityWarning, Message: "Decision mismatch"},
		}})
	second.CreatedAt = base.Add(time.Second)
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))

	got, err := store.ListByTransaction(ctx, "tx_pg", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.False(t, got[0].Consistent)
	require.Len(t, got[0].Discrepancies, 1)
	assert.Equal(t, consistency.KindDecisionMismatch, got[0].Discrepancies[0].Kind)
	assert.Equal(t, 60, got[0].Investigation.RiskScore)
	assert.Equal(t, facts.DecisionBlock, got[0].Judgment.Decision)

	page, err := store.List(ctx, ListQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	after := CursorAfter(page[0], "")
	next, err := store.List(ctx, ListQuery{Limit: 1, After: &after})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, first.ID, next[0].ID)

	external, err := store.List(ctx, ListQuery{Limit: 10, Source: SourceExternal})
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, second.ID, external[0].ID)

	_, err = store.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
