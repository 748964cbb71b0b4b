package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/opsconsole/api/responses"
	"github.com/angelmondragon/opsconsole/api/validators"
	"github.com/angelmondragon/opsconsole/internal/catalog"
	"github.com/angelmondragon/opsconsole/internal/picks"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/logger"
)

// PickAllocator is the pick-number surface the API drives.
type PickAllocator interface {
	Reload(ctx context.Context) error
	Suggest(ctx context.Context, variantIDs []string) ([]picks.Suggestion, error)
	Accept(ctx context.Context, variantID string, number int) error
	Pending(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, edits []picks.Edit) (*catalog.SaveResult, error)
	Duplicates(ctx context.Context) ([]picks.Duplicate, error)
}

type suggestRequest struct {
	VariantIDs []string `json:"variantIds" validate:"required,min=1,max=500,dive,required"`
}

type acceptRequest struct {
	VariantID  string `json:"variantId" validate:"required"`
	PickNumber int    `json:"pickNumber" validate:"gt=0,lte=999999999"`
}

type saveRequest struct {
	Edits []picks.Edit `json:"edits" validate:"omitempty,max=500,dive"`
}

// PickSuggestions reserves a suggestion for each requested variant.
func PickSuggestions(svc PickAllocator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pick service unavailable"))
			return
		}

		var payload suggestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids := make([]string, 0, len(payload.VariantIDs))
		for _, id := range payload.VariantIDs {
			ids = append(ids, validators.SanitizeString(id, 128))
		}

		suggestions, err := svc.Suggest(r.Context(), ids)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"suggestions": suggestions})
	}
}

func PickAccept(svc PickAllocator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pick service unavailable"))
			return
		}

		var payload acceptRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		variantID := validators.SanitizeString(payload.VariantID, 128)
		if err := svc.Accept(r.Context(), variantID, payload.PickNumber); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pending, err := svc.Pending(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"pending": pending})
	}
}

// PickRebuild reloads allocation state from the variant table.
func PickRebuild(svc PickAllocator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pick service unavailable"))
			return
		}
		if err := svc.Reload(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pending, err := svc.Pending(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "rebuilt", "pending": pending})
	}
}

// PickSave persists edits, or the accepted pending numbers when the body
// carries no edits. Conflicts yield 409 with details.
func PickSave(svc PickAllocator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pick service unavailable"))
			return
		}

		var payload saveRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Save(r.Context(), payload.Edits)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func PickDuplicates(svc PickAllocator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pick service unavailable"))
			return
		}
		dups, err := svc.Duplicates(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"duplicates": dups})
	}
}
