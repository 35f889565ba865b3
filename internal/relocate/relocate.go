package relocate

import (
	"context"
	"fmt"

	"tiershift/internal/ledger"

	"go.uber.org/zap"
)

// DefaultTier is PostgreSQL's default tablespace
const DefaultTier = "pg_default"

// TierConfig names the two tiers and the rebuild parallelism
type TierConfig struct {
	Secondary   string `yaml:"secondary"`
	Default     string `yaml:"default"`
	Parallelism int    `yaml:"parallelism"`
}

// Action is a single idempotent structural operation against one object
type Action func(ctx context.Context, obj ledger.ObjectID) error

// Relocator implements the two phase actions over an Engine
type Relocator struct {
	engine Engine
	tiers  TierConfig
	logger *zap.Logger
}

// New creates a relocator. An empty default tier means DefaultTier.
func New(engine Engine, tiers TierConfig, logger *zap.Logger) *Relocator {
	if tiers.Default == "" {
		tiers.Default = DefaultTier
	}
	if tiers.Parallelism < 0 {
		tiers.Parallelism = 0
	}
	return &Relocator{engine: engine, tiers: tiers, logger: logger}
}

// ForPhase returns the action that implements phase
func (r *Relocator) ForPhase(phase ledger.Phase) (Action, error) {
	switch phase {
	case ledger.PhaseOut:
		return r.RelocateOut, nil
	case ledger.PhaseBack:
		return r.RelocateBack, nil
	default:
		return nil, fmt.Errorf("no action for %s", phase)
	}
}

// RelocateOut moves the object's heap and access path onto the secondary
// tier, creating a temporary access path there when the object has none.
func (r *Relocator) RelocateOut(ctx context.Context, obj ledger.ObjectID) error {
	const op = "relocate out"
	target := r.tiers.Secondary

	if err := r.requireTier(ctx, op, obj, target); err != nil {
		return err
	}

	temp := TempIndexName(obj)
	p, err := r.engine.Placement(ctx, obj, temp)
	if err != nil {
		return &Error{Op: op, Object: obj, Err: err}
	}

	path, pathTier := p.AccessPath, p.AccessPathTier
	if path == "" {
		path, pathTier = temp, p.TempIndexTier
		if !p.TempIndex {
			if p.KeyColumn == "" {
				return &Error{Op: op, Object: obj, Err: ErrNoKeyColumn}
			}
			r.logger.Info("Creating temporary access path",
				zap.String("object", obj.String()),
				zap.String("index", temp),
				zap.String("tier", target),
			)
			if err := r.engine.CreateIndex(ctx, obj, temp, p.KeyColumn, target); err != nil {
				return &Error{Op: op, Object: obj, Err: err}
			}
			pathTier = target
		}
	}

	if p.TableTier != target {
		if err := r.engine.MoveTable(ctx, obj, target); err != nil {
			return &Error{Op: op, Object: obj, Err: err}
		}
	}

	if pathTier != target {
		if err := r.engine.MoveIndex(ctx, obj, path, target); err != nil {
			return &Error{Op: op, Object: obj, Err: err}
		}
	}

	r.logger.Debug("Object placed on secondary tier",
		zap.String("object", obj.String()),
		zap.String("access_path", path),
	)
	return nil
}

// RelocateBack rebuilds the access path on the default tier with the
// configured parallelism, returns the heap, and drops the temporary path.
func (r *Relocator) RelocateBack(ctx context.Context, obj ledger.ObjectID) error {
	const op = "relocate back"
	target := r.tiers.Default

	if err := r.requireTier(ctx, op, obj, target); err != nil {
		return err
	}

	temp := TempIndexName(obj)
	p, err := r.engine.Placement(ctx, obj, temp)
	if err != nil {
		return &Error{Op: op, Object: obj, Err: err}
	}

	if p.TableTier != target {
		if err := r.engine.MoveTable(ctx, obj, target); err != nil {
			return &Error{Op: op, Object: obj, Err: err}
		}
	}

	if p.AccessPath != "" && p.AccessPathTier != target {
		if err := r.engine.RebuildIndex(ctx, obj, p.AccessPath, target, r.tiers.Parallelism); err != nil {
			return &Error{Op: op, Object: obj, Err: fmt.Errorf("%w: %v", ErrRebuildFailed, err)}
		}
	}

	if p.TempIndex {
		r.logger.Info("Dropping temporary access path",
			zap.String("object", obj.String()),
			zap.String("index", temp),
		)
		if err := r.engine.DropIndex(ctx, obj, temp); err != nil {
			return &Error{Op: op, Object: obj, Err: err}
		}
	}

	return nil
}

func (r *Relocator) requireTier(ctx context.Context, op string, obj ledger.ObjectID, tier string) error {
	ok, err := r.engine.TierExists(ctx, tier)
	if err != nil {
		return &Error{Op: op, Object: obj, Err: err}
	}
	if !ok {
		return &Error{Op: op, Object: obj, Err: fmt.Errorf("%w: %s", ErrTierNotFound, tier)}
	}
	return nil
}
