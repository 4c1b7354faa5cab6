package user_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktalk/tasktalk/internal/testutil"
	"github.com/tasktalk/tasktalk/internal/user"
)

func TestEnsureIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := user.NewStore(db.Pool)
	ctx := context.Background()

	require.NoError(t, st.Ensure(ctx, "alice"))
	require.NoError(t, st.Ensure(ctx, "alice"))

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE id = 'alice'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnsureConcurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := user.NewStore(db.Pool)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, st.Ensure(ctx, "alice"))
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}
