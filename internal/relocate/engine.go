package relocate

import (
	"context"
	"errors"
	"fmt"

	"tiershift/internal/ledger"
)

var (
	ErrTierNotFound   = errors.New("storage tier not found")
	ErrObjectNotFound = errors.New("object not found")
	ErrRebuildFailed  = errors.New("access path rebuild failed")
	ErrNoKeyColumn    = errors.New("object has no column to build a temporary access path on")
)

// Error describes a failed relocation step against one object
type Error struct {
	Op     string
	Object ledger.ObjectID
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Object, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Placement is where an object's heap and access path currently live
type Placement struct {
	TableTier string

	// AccessPath is the primary key or first unique index; empty when the
	// object has none.
	AccessPath     string
	AccessPathTier string

	// KeyColumn is the column a temporary access path is built on.
	KeyColumn string

	TempIndex     bool
	TempIndexTier string
}

// Engine is the storage engine's relocation primitive. Every mutation
// must be safe to repeat against an object already in the target state.
type Engine interface {
	TierExists(ctx context.Context, tier string) (bool, error)
	Placement(ctx context.Context, obj ledger.ObjectID, tempIndex string) (*Placement, error)
	MoveTable(ctx context.Context, obj ledger.ObjectID, tier string) error
	MoveIndex(ctx context.Context, obj ledger.ObjectID, index, tier string) error
	RebuildIndex(ctx context.Context, obj ledger.ObjectID, index, tier string, parallelism int) error
	CreateIndex(ctx context.Context, obj ledger.ObjectID, index, column, tier string) error
	DropIndex(ctx context.Context, obj ledger.ObjectID, index string) error
}

// maxIdentifierLength is PostgreSQL's NAMEDATALEN - 1
const maxIdentifierLength = 63

const tempIndexSuffix = "_tiershift_tmp"

// TempIndexName is the name of the temporary access path built for obj
func TempIndexName(obj ledger.ObjectID) string {
	name := obj.Name
	if limit := maxIdentifierLength - len(tempIndexSuffix); len(name) > limit {
		name = name[:limit]
	}
	return name + tempIndexSuffix
}
