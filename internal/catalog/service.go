// Package catalog owns the variant table and the pick-number editing session
// that operators drive from the console.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/opsconsole/internal/picks"
	"github.com/angelmondragon/opsconsole/pkg/db/models"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/logger"
)

type variantStore interface {
	ListVariants(ctx context.Context, includeArchived bool) ([]models.Variant, error)
	ApplyEdits(ctx context.Context, edits []picks.Edit) error
	UpdatePickNumbers(ctx context.Context, pickNumbers map[string]string) error
}

// PickServiceParams configures a PickService.
type PickServiceParams struct {
	Logger     *logger.Logger
	Repository variantStore
	Now        func() time.Time
}

// SaveResult reports a successful save.
type SaveResult struct {
	Updated int `json:"updated"`
}

// PickService serializes access to a shared allocator session.
type PickService struct {
	logg *logger.Logger
	repo variantStore
	now  func() time.Time

	mu       sync.Mutex
	alloc    *picks.Allocator
	variants []picks.Variant
}

func NewPickService(params PickServiceParams) (*PickService, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("variant repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &PickService{logg: params.Logger, repo: params.Repository, now: now}, nil
}

// Reload rebuilds the allocation state from the variant table.
func (s *PickService) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// Suggest reserves one suggestion per variant id, in request order. An
// unknown id fails the batch before anything is reserved.
func (s *PickService) Suggest(ctx context.Context, variantIDs []string) ([]picks.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	for _, id := range variantIDs {
		if !s.alloc.Known(id) {
			return nil, mapAllocatorError(fmt.Errorf("%w: %s", picks.ErrUnknownVariant, id))
		}
	}
	out := make([]picks.Suggestion, 0, len(variantIDs))
	for _, id := range variantIDs {
		suggestion, err := s.alloc.Suggest(id)
		if err != nil {
			return nil, mapAllocatorError(err)
		}
		out = append(out, suggestion)
	}
	return out, nil
}

// Accept records number as the pending pick number for variantID.
func (s *PickService) Accept(ctx context.Context, variantID string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := s.alloc.Accept(variantID, number); err != nil {
		return mapAllocatorError(err)
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithVariantID(ctx, variantID), map[string]any{"pick_number": number}), "pick number accepted")
	return nil
}

// Pending returns accepted, unsaved pick numbers.
func (s *PickService) Pending(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.alloc.Pending(), nil
}

// Save validates edits against the current table and persists them. With no
// edits, the session's accepted pick numbers are saved. Explicit edits only
// settle the pending numbers of the variants whose pick number they set.
func (s *PickService) Save(ctx context.Context, edits []picks.Edit) (*SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	fromPending := len(edits) == 0
	pending := s.alloc.Pending()
	if fromPending {
		edits = pendingEdits(pending)
	}
	if len(edits) == 0 {
		return &SaveResult{}, nil
	}

	rows, err := s.repo.ListVariants(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load variants")
	}
	if conflicts := picks.DetectConflicts(edits, toPickVariants(rows)); len(conflicts) > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "conflicts", len(conflicts)), "pick save rejected")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "edits conflict with other variants").
			WithDetails(map[string]any{"conflicts": conflicts})
	}
	if err := s.persist(ctx, edits, pending, fromPending); err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save variant edits")
	}

	if err := s.reloadLocked(ctx); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"updated": len(edits), "from_pending": fromPending}), "variant edits saved")
	return &SaveResult{Updated: len(edits)}, nil
}

func (s *PickService) persist(ctx context.Context, edits []picks.Edit, pending map[string]string, fromPending bool) error {
	if fromPending {
		if err := s.repo.UpdatePickNumbers(ctx, pending); err != nil {
			return err
		}
		s.alloc.ClearPending()
		return nil
	}
	if err := s.repo.ApplyEdits(ctx, edits); err != nil {
		return err
	}
	settled := make([]string, 0, len(edits))
	for _, edit := range edits {
		if edit.PickNumber != nil {
			settled = append(settled, edit.VariantID)
		}
	}
	s.alloc.DropPending(settled...)
	return nil
}

// Duplicates surfaces historical pick-number and SKU duplicates.
func (s *PickService) Duplicates(ctx context.Context) ([]picks.Duplicate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return picks.FindDuplicates(s.variants), nil
}

func (s *PickService) ensureLoaded(ctx context.Context) error {
	if s.alloc != nil {
		return nil
	}
	return s.reloadLocked(ctx)
}

func (s *PickService) reloadLocked(ctx context.Context) error {
	rows, err := s.repo.ListVariants(ctx, true)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load variants")
	}
	s.variants = toPickVariants(rows)
	if s.alloc == nil {
		s.alloc = picks.NewAllocator(s.variants, picks.Options{Now: s.now})
	} else {
		s.alloc.Rebuild(s.variants)
	}
	state := s.alloc.State()
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"variants":   len(s.variants),
		"used_picks": state.UsedCount(),
		"global_max": state.GlobalMax(),
	}), "pick allocation state rebuilt")
	return nil
}

func pendingEdits(pending map[string]string) []picks.Edit {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	edits := make([]picks.Edit, 0, len(ids))
	for _, id := range ids {
		value := pending[id]
		edits = append(edits, picks.Edit{VariantID: id, PickNumber: &value})
	}
	return edits
}

func mapAllocatorError(err error) error {
	switch {
	case errors.Is(err, picks.ErrUnknownVariant):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, err.Error())
	case errors.Is(err, picks.ErrInvalidPickNumber):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pick allocation failed")
	}
}
