package service

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/codec"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

const maxVariantBytes = 64

// Experiments returns the browser's assignments. A missing or corrupt map
// reads as empty.
func (t *Tracker) Experiments(ctx context.Context) domain.Experiments {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readExperiments(ctx)
}

// AssignExperiment records variant for name unless name is already assigned.
// It returns the resulting map and whether a new assignment was written.
func (t *Tracker) AssignExperiment(ctx context.Context, name, variant string) (domain.Experiments, bool, error) {
	key := slug.Make(name)
	variant = strings.TrimSpace(variant)
	if key == "" {
		return nil, false, fmt.Errorf("%w: empty name", domain.ErrInvalidExperiment)
	}
	if variant == "" || len(variant) > maxVariantBytes {
		return nil, false, fmt.Errorf("%w: variant for %s", domain.ErrInvalidExperiment, key)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.readExperiments(ctx)
	if _, ok := current[key]; ok {
		return current, false, nil
	}

	next := maps.Clone(current)
	next[key] = variant
	raw, err := codec.EncodeExperiments(next)
	if err != nil {
		return current, false, err
	}
	policy := t.svc.Policy()
	if _, err := t.store.Write(ctx, policy.ExperimentsName, raw, policy.RecordTTL); err != nil {
		logger.WithContext(ctx, t.svc.log).Warn("experiment assignment not persisted",
			zap.String("experiment", key), zap.Error(err))
		return next, true, err
	}
	return next, true, nil
}

func (t *Tracker) readExperiments(ctx context.Context) domain.Experiments {
	raw, ok := t.store.Read(ctx, t.svc.Policy().ExperimentsName)
	if !ok {
		return domain.Experiments{}
	}
	exp, ok := codec.DecodeExperiments(raw)
	if !ok || exp == nil {
		return domain.Experiments{}
	}
	return exp
}
