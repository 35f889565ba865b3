package app

import (
	"context"
	"testing"
	"time"

	"tiershift/internal/ledger"
	"tiershift/internal/relocate/relocatetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerify(t *testing.T) {
	store := openLedger(t)
	engine := relocatetest.New("fast")
	engine.AddTable(objA, "a_pkey", 1, "id bigint NOT NULL")
	engine.AddTable(objB, "b_pkey", 1, "id bigint NOT NULL")
	engine.AddTable(objC, "events_pkey", 1, "id bigint NOT NULL")
	ctx := context.Background()

	run, _, err := store.BeginRun(ctx)
	require.NoError(t, err)
	for _, obj := range []ledger.ObjectID{objA, objB, objC} {
		def, err := engine.Script(ctx, obj)
		require.NoError(t, err)
		_, err = store.SaveSnapshot(ctx, ledger.Snapshot{RunID: run.ID, Object: obj, Definition: def, CapturedAt: time.Now()})
		require.NoError(t, err)
	}

	// b gains a column, c disappears, a only changes tier.
	engine.Tables[objA].Tier = "fast"
	engine.Tables[objB].Columns = append(engine.Tables[objB].Columns, "note text")
	delete(engine.Tables, objC)

	mismatches, err := NewVerifier(engine, store, zap.NewNop()).Verify(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)

	// Ordered by namespace then name.
	assert.Equal(t, objC, mismatches[0].Object)
	assert.Equal(t, "object not found", mismatches[0].Reason)
	assert.Equal(t, objB, mismatches[1].Object)
	assert.Equal(t, `line 3: expected "    CONSTRAINT b_pkey PRIMARY KEY", got "    note text,"`, mismatches[1].Reason)
	assert.NotEmpty(t, mismatches[1].Actual)
}

func TestFirstDifference(t *testing.T) {
	assert.Equal(t, `line 2: expected "b", got "x"`, firstDifference("a\nb\nc", "a\nx\nc"))
	assert.Equal(t, `line 3 added: "c"`, firstDifference("a\nb", "a\nb\nc"))
	assert.Equal(t, `line 2 removed: "b"`, firstDifference("a\nb", "a"))
	assert.Equal(t, "definitions differ", firstDifference("a", "a"))
}
