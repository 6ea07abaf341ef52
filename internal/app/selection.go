package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mutesky/api/internal/bsky"
	"mutesky/api/internal/catalog"
	"mutesky/api/internal/metrics"
	"mutesky/api/internal/mode"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/selection"
	"mutesky/api/internal/store"
	"mutesky/api/internal/weight"
)

type ContextView struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Categories  []string                `json:"categories"`
	Selected    bool                    `json:"selected"`
	State       selection.CategoryState `json:"state"`
}

type CategoryView struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Weight   int                     `json:"weight"`
	Combined bool                    `json:"combined"`
	State    selection.CategoryState `json:"state"`
	Active   int                     `json:"active"`
	Filtered int                     `json:"filtered"`
	Total    int                     `json:"total"`
}

// SelectionView is what the dashboard renders after every operation.
type SelectionView struct {
	DID                string               `json:"did"`
	Mode               mode.Mode            `json:"mode"`
	TargetKeywordCount int                  `json:"targetKeywordCount"`
	FilterLevel        int                  `json:"filterLevel"`
	Contexts           []ContextView        `json:"contexts"`
	Exceptions         []string             `json:"exceptions"`
	Categories         []CategoryView       `json:"categories"`
	ActiveKeywords     []string             `json:"activeKeywords"`
	ManuallyUnchecked  []string             `json:"manuallyUnchecked"`
	ToMute             int                  `json:"toMute"`
	ToUnmute           int                  `json:"toUnmute"`
	ButtonText         string               `json:"buttonText"`
	LastModified       string               `json:"lastModified"`
	BulkAction         selection.BulkAction `json:"bulkAction,omitempty"`
	Changed            bool                 `json:"changed"`
}

type SyncResult struct {
	Message     string        `json:"message"`
	Muted       int           `json:"muted"`
	Unmuted     int           `json:"unmuted"`
	RemoteItems int           `json:"remoteItems"`
	Selection   SelectionView `json:"selection"`
}

type MutesOverview struct {
	Total   int `json:"total"`
	Managed int `json:"managed"`
	Foreign int `json:"foreign"`
}

func buildView(did string, engine *selection.Engine) SelectionView {
	state := engine.State()
	c := engine.Catalog()
	cache := engine.Cache()

	view := SelectionView{
		DID:                did,
		Mode:               state.Mode,
		TargetKeywordCount: int(state.Target),
		FilterLevel:        state.FilterLevel,
		Contexts:           []ContextView{},
		Exceptions:         state.SelectedExceptions.Values(),
		Categories:         []CategoryView{},
		ActiveKeywords:     state.ActiveKeywords.Values(),
		ManuallyUnchecked:  state.ManuallyUnchecked.Values(),
		ButtonText:         engine.ButtonText(),
		LastModified:       state.LastModified,
	}
	view.ToMute, view.ToUnmute = engine.Counts()

	for _, ctx := range c.Contexts() {
		view.Contexts = append(view.Contexts, ContextView{
			ID:          ctx.ID,
			Title:       ctx.Title,
			Description: ctx.Description,
			Categories:  ctx.Categories,
			Selected:    state.SelectedContexts.Has(ctx.ID),
			State:       cache.ContextState(ctx.ID),
		})
	}
	for _, id := range c.ListedCategories() {
		item := CategoryView{
			ID:       id,
			Name:     c.DisplayName(id),
			Combined: c.IsCombined(id),
			State:    cache.CategoryState(id),
			Active:   len(cache.ActiveIn(id)),
			Filtered: len(cache.Keywords(id, true)),
			Total:    len(cache.Keywords(id, false)),
		}
		if category, ok := c.Category(id); ok {
			item.Weight = category.Weight
		}
		view.Categories = append(view.Categories, item)
	}
	return view
}

// apply runs one engine operation for the account under its lock, after
// checking the mode allows it, and schedules the settle job when it changed
// anything.
func (s *Service) apply(ctx context.Context, session Session, action mode.Action, op func(*selection.Engine) (bool, error)) (SelectionView, error) {
	var view SelectionView
	err := s.withWorkspace(ctx, session.DID, func(ws *workspace) error {
		if !mode.Can(ws.engine.State().Mode, action) {
			metrics.OperationRejected(string(action))
			return modeForbidden(string(action))
		}
		changed, err := op(ws.engine)
		if err != nil {
			return err
		}
		metrics.Operation(string(action), changed)
		view = buildView(session.DID, ws.engine)
		view.Changed = changed
		if bulk := ws.engine.State().PendingBulk; bulk != selection.BulkNone {
			view.BulkAction = bulk
		}
		return nil
	})
	if err != nil {
		return SelectionView{}, err
	}
	if view.Changed {
		s.settle.Schedule(session.DID)
	}
	return view, nil
}

func (s *Service) Selection(ctx context.Context, session Session) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionView, func(*selection.Engine) (bool, error) {
		return false, nil
	})
}

func (s *Service) ToggleContext(ctx context.Context, session Session, contextID string) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionToggleContext, func(engine *selection.Engine) (bool, error) {
		return engine.ToggleContext(contextID), nil
	})
}

func (s *Service) ToggleException(ctx context.Context, session Session, category string) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionToggleException, func(engine *selection.Engine) (bool, error) {
		return engine.ToggleException(category), nil
	})
}

func (s *Service) ToggleCategory(ctx context.Context, session Session, category string) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionToggleCategory, func(engine *selection.Engine) (bool, error) {
		return engine.ToggleCategory(category, engine.CategoryState(category)), nil
	})
}

func (s *Service) ToggleKeyword(ctx context.Context, session Session, keyword string, enabled bool) (SelectionView, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return SelectionView{}, validationError("keyword is required")
	}
	return s.apply(ctx, session, mode.ActionToggleKeyword, func(engine *selection.Engine) (bool, error) {
		return engine.ToggleKeyword(keyword, enabled), nil
	})
}

// ChangeBudget takes either a filter level or a raw target count; the
// level wins when both are given.
func (s *Service) ChangeBudget(ctx context.Context, session Session, level, targetCount *int) (SelectionView, error) {
	var budget weight.Budget
	var err error
	switch {
	case level != nil:
		budget, err = weight.ForLevel(*level)
	case targetCount != nil:
		budget, err = weight.ParseBudget(*targetCount)
	default:
		return SelectionView{}, validationError("level or targetCount is required")
	}
	if err != nil {
		return SelectionView{}, err
	}
	return s.apply(ctx, session, mode.ActionChangeBudget, func(engine *selection.Engine) (bool, error) {
		if engine.State().Target == budget {
			return false, nil
		}
		return true, engine.ChangeBudget(budget)
	})
}

func (s *Service) SetMode(ctx context.Context, session Session, value string) (SelectionView, error) {
	next := mode.Mode(strings.ToLower(strings.TrimSpace(value)))
	if next != mode.Simple && next != mode.Advanced {
		return SelectionView{}, validationError(fmt.Sprintf("unknown mode %q", value))
	}
	return s.apply(ctx, session, mode.ActionView, func(engine *selection.Engine) (bool, error) {
		if engine.State().Mode == next {
			return false, nil
		}
		engine.SetMode(next)
		return true, nil
	})
}

// EnableAll activates the whole catalog, or only keywords matching term.
func (s *Service) EnableAll(ctx context.Context, session Session, term string) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionBulk, func(engine *selection.Engine) (bool, error) {
		if strings.TrimSpace(term) == "" {
			engine.EnableAll()
		} else {
			engine.EnableMatching(engine.Match(term))
		}
		return true, nil
	})
}

func (s *Service) DisableAll(ctx context.Context, session Session, term string) (SelectionView, error) {
	return s.apply(ctx, session, mode.ActionBulk, func(engine *selection.Engine) (bool, error) {
		if strings.TrimSpace(term) == "" {
			engine.DisableAll()
		} else {
			engine.DisableMatching(engine.Match(term))
		}
		return true, nil
	})
}

// Mutes counts the remote muted words.
func (s *Service) Mutes(ctx context.Context, session Session) (MutesOverview, error) {
	words, err := s.mutes.Fetch(ctx, session.DID)
	if err != nil {
		return MutesOverview{}, err
	}
	c := s.Catalog()
	overview := MutesOverview{Total: len(words)}
	for _, word := range words {
		if c.Managed(word.Value) {
			overview.Managed++
		}
	}
	overview.Foreign = overview.Total - overview.Managed
	return overview, nil
}

// Sync pushes the active set to the remote muted-words list and restarts
// the comparison from what was written. One sync per account runs at a
// time; the account lock is held for the whole push so operations queue
// behind it.
func (s *Service) Sync(ctx context.Context, session Session) (SyncResult, error) {
	if !s.beginSync(session.DID) {
		metrics.SyncFailed("in_progress")
		return SyncResult{}, errSyncInProgress
	}
	defer s.endSync(session.DID)

	settings, err := s.selections.LoadSettings(ctx, session.DID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load mute settings: %w", err)
	}

	var result SyncResult
	err = s.withWorkspace(ctx, session.DID, func(ws *workspace) error {
		engine := ws.engine
		if !mode.Can(engine.State().Mode, mode.ActionSync) {
			return modeForbidden(string(mode.ActionSync))
		}
		toMute, toUnmute := engine.Counts()
		if toMute == 0 && toUnmute == 0 {
			result = SyncResult{Message: selection.SyncMessage(0, 0), Selection: buildView(session.DID, engine)}
			return nil
		}

		merged, err := s.mutes.Push(ctx, session.DID, engine.State().ActiveKeywords.Values(), engine.Catalog(), settings)
		if err != nil {
			return err
		}
		engine.ApplySynced(mutes.Values(merged))
		result = SyncResult{
			Message:     selection.SyncMessage(toMute, toUnmute),
			Muted:       toMute,
			Unmuted:     toUnmute,
			RemoteItems: len(merged),
			Selection:   buildView(session.DID, engine),
		}
		return nil
	})
	if err != nil {
		metrics.SyncFailed(syncFailureReason(err))
		return SyncResult{}, err
	}
	if result.Muted == 0 && result.Unmuted == 0 {
		return result, nil
	}

	metrics.SyncSucceeded(result.Muted, result.Unmuted)
	s.settle.Schedule(session.DID)
	if s.history != nil {
		if _, err := s.history.RecordSync(ctx, store.SyncRecord{
			DID:         session.DID,
			Muted:       result.Muted,
			Unmuted:     result.Unmuted,
			RemoteItems: result.RemoteItems,
			Message:     result.Message,
		}); err != nil {
			s.logger.Warn("record sync", zap.String("did", session.DID), zap.Error(err))
		}
	}
	s.logger.Info("muted words synced",
		zap.String("did", session.DID),
		zap.Int("muted", result.Muted),
		zap.Int("unmuted", result.Unmuted),
	)
	return result, nil
}

func syncFailureReason(err error) string {
	switch {
	case errors.Is(err, bsky.ErrNotAuthenticated), errors.Is(err, bsky.ErrSessionExpired):
		return "not_authenticated"
	case errors.Is(err, bsky.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, bsky.ErrServiceUnavailable):
		return "unavailable"
	default:
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return "rejected"
		}
		return "error"
	}
}

// CatalogView is the public description of the loaded catalog.
type CatalogView struct {
	LastModified string            `json:"lastModified"`
	Keywords     int               `json:"keywords"`
	Contexts     []catalog.Context `json:"contexts"`
	Categories   []CatalogCategory `json:"categories"`
}

type CatalogCategory struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Weight   int      `json:"weight"`
	Combined bool     `json:"combined"`
	Sources  []string `json:"sources,omitempty"`
	Keywords int      `json:"keywords"`
}

func describeCatalog(c *catalog.Catalog) CatalogView {
	view := CatalogView{
		LastModified: c.LastModified(),
		Keywords:     c.KeywordCount(),
		Contexts:     c.Contexts(),
		Categories:   []CatalogCategory{},
	}
	if view.Contexts == nil {
		view.Contexts = []catalog.Context{}
	}
	resolver := selection.NewResolver(c)
	for _, id := range c.ListedCategories() {
		item := CatalogCategory{ID: id, Name: c.DisplayName(id), Combined: c.IsCombined(id)}
		if sources, ok := c.Sources(id); ok {
			item.Sources = sources
		}
		if category, ok := c.Category(id); ok {
			item.Weight = category.Weight
		}
		if keywords, err := resolver.Resolve(id, false, weight.BudgetComplete); err == nil {
			item.Keywords = len(keywords)
		}
		view.Categories = append(view.Categories, item)
	}
	return view
}
