package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"faltas_go/cache"
	"faltas_go/gateway"
	"faltas_go/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrSubstituteNotFound = errors.New("substitute not found")
	ErrSubstituteName     = errors.New("substitute name is required")
)

// SubstituteSource is the remote side of the roster.
type SubstituteSource interface {
	ListSubstitutes(ctx context.Context, filter gateway.SubstituteFilter) ([]models.Substitute, error)
	GetSubstitute(ctx context.Context, id string) (*models.Substitute, error)
	InsertSubstitute(ctx context.Context, substitute *models.Substitute) error
}

// SubstituteRepository serves the roster through a read cache keyed by unit.
type SubstituteRepository struct {
	source SubstituteSource
	cache  cache.Policy[[]models.Substitute]
}

func NewSubstituteRepository(source SubstituteSource, policy cache.Policy[[]models.Substitute]) *SubstituteRepository {
	return &SubstituteRepository{source: source, cache: policy}
}

func cacheKey(unit string) string {
	if unit == "" {
		return "substitutes-all"
	}
	return "substitutes-" + unit
}

// List returns the roster ordered by name. Only active-roster queries are cached.
func (r *SubstituteRepository) List(ctx context.Context, filter gateway.SubstituteFilter) ([]models.Substitute, error) {
	if filter.IncludeInactive {
		return r.source.ListSubstitutes(ctx, filter)
	}

	key := cacheKey(filter.Unit)
	cached, err := r.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		logrus.WithError(err).WithField("key", key).Warn("substitute cache read failed")
	}

	substitutes, err := r.source.ListSubstitutes(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, substitutes); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("substitute cache write failed")
	}
	return substitutes, nil
}

// Get looks in the cached full roster before asking the source.
func (r *SubstituteRepository) Get(ctx context.Context, id string) (*models.Substitute, error) {
	if cached, err := r.cache.Get(ctx, cacheKey("")); err == nil {
		for i := range cached {
			if cached[i].ID == id {
				s := cached[i]
				return &s, nil
			}
		}
	}

	substitute, err := r.source.GetSubstitute(ctx, id)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ErrSubstituteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get substitute %s: %w", id, err)
	}
	return substitute, nil
}

// Invalidate drops every cached roster.
func (r *SubstituteRepository) Invalidate(ctx context.Context) {
	if err := r.cache.Clear(ctx); err != nil {
		logrus.WithError(err).Warn("failed to invalidate substitute cache")
	}
}

// Create registers a new active roster entry.
func (r *SubstituteRepository) Create(ctx context.Context, substitute *models.Substitute) error {
	substitute.Name = strings.TrimSpace(substitute.Name)
	if substitute.Name == "" {
		return ErrSubstituteName
	}
	substitute.Active = true
	if err := r.source.InsertSubstitute(ctx, substitute); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

// Run invalidates the cache on every roster change until ctx is done.
func (r *SubstituteRepository) Run(ctx context.Context, feed gateway.Feed) error {
	changes, err := feed.Subscribe(ctx, gateway.TableSubstitutes)
	if err != nil {
		return fmt.Errorf("subscribe substitutes: %w", err)
	}
	for change := range changes {
		logrus.WithFields(logrus.Fields{"op": change.Op, "id": change.ID}).Debug("substitute roster changed")
		r.Invalidate(ctx)
	}
	return nil
}
