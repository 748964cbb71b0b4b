package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/opsconsole/internal/picks"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*PickService, *Repository) {
	t.Helper()
	repo := NewRepository(newTestDB(t))
	seedVariants(t, repo)
	svc, err := NewPickService(PickServiceParams{
		Logger:     logger.Nop(),
		Repository: repo,
		Now:        func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc, repo
}

func TestPickServiceSuggestAcceptSave(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	// The archived 103 does not block the prefix gap.
	suggestions, err := svc.Suggest(ctx, []string{"v4"})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, 103, suggestions[0].PickNumber)
	assert.Equal(t, picks.SourceSKUPrefix, suggestions[0].Source)

	require.NoError(t, svc.Accept(ctx, "v4", suggestions[0].PickNumber))
	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"v4": "103"}, pending)

	result, err := svc.Save(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	rows := variantsByID(t, repo, "v4")
	require.NotNil(t, rows[0].PickNumber)
	assert.Equal(t, "103", *rows[0].PickNumber)

	pending, err = svc.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPickServiceSaveRejectsConflicts(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, []picks.Edit{{VariantID: "v4", PickNumber: pick("101")}})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	conflicts, ok := details["conflicts"].([]picks.Conflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"v4", "v1"}, conflicts[0].VariantIDs)

	rows := variantsByID(t, repo, "v4")
	assert.Nil(t, rows[0].PickNumber)
}

func TestPickServiceExplicitSaveKeepsOtherPending(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Accept(ctx, "v4", 103))
	require.NoError(t, svc.Accept(ctx, "v2", 110))

	result, err := svc.Save(ctx, []picks.Edit{
		{VariantID: "v1", SKU: pick("WDG-RED2")},
		{VariantID: "v2", PickNumber: pick("111")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	// Only the variant whose pick number was saved leaves the pending set.
	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"v4": "103"}, pending)

	rows := variantsByID(t, repo, "v1", "v4")
	assert.Equal(t, "WDG-RED2", rows[0].SKU)
	assert.Nil(t, rows[1].PickNumber)
}

func TestPickServiceSuggestBatchIsAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Suggest(ctx, []string{"v4", "ghost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	// The failed batch reserved nothing, so v4 still gets the prefix gap.
	suggestions, err := svc.Suggest(ctx, []string{"v4"})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, 103, suggestions[0].PickNumber)
}

func TestPickServiceErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Suggest(ctx, []string{"ghost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	err = svc.Accept(ctx, "v4", 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	result, err := svc.Save(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Updated)
}

func TestPickServiceDuplicatesAndReload(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	dups, err := svc.Duplicates(ctx)
	require.NoError(t, err)
	assert.Empty(t, dups)

	// A duplicate written outside the session shows up after Reload.
	require.NoError(t, repo.UpdatePickNumbers(ctx, map[string]string{"v4": "101"}))
	require.NoError(t, svc.Reload(ctx))
	dups, err = svc.Duplicates(ctx)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, picks.Duplicate{Field: picks.FieldPickNumber, Value: "101", VariantIDs: []string{"v1", "v4"}}, dups[0])
}

func TestNewPickServiceValidatesParams(t *testing.T) {
	_, err := NewPickService(PickServiceParams{})
	assert.Error(t, err)
	_, err = NewPickService(PickServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
