package conversation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/testutil"
	"github.com/tasktalk/tasktalk/internal/user"
)

func setupStore(t *testing.T) *conversation.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)

	users := user.NewStore(db.Pool)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, users.Ensure(ctx, id))
	}
	return conversation.NewStore(db.Pool, nil)
}

func TestEnsureIsIdempotent(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	first, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, "alice", first.OwnerID)

	second, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnsureConcurrentFirstMessages(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	// Any number of concurrent first messages must converge on exactly
	// one conversation row.
	const workers = 50
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := st.Ensure(ctx, "alice")
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	c, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		msg, err := st.Append(ctx, c.ID, conversation.RoleUser, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, int32(i), msg.SequenceNumber)
	}
}

func TestHistoryOrderIsDeterministic(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	c, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)

	// Concurrent appends serialize on the conversation row lock.
	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := st.Append(ctx, c.ID, conversation.RoleUser, fmt.Sprintf("message %d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	first, err := st.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, first, workers)

	// Sequence numbers are gapless and strictly increasing.
	for i, m := range first {
		assert.Equal(t, int32(i+1), m.SequenceNumber)
	}

	// A second read returns the identical order.
	second, err := st.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, second, workers)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestHistoryIsOwnerScoped(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)
	b, err := st.Ensure(ctx, "bob")
	require.NoError(t, err)

	_, err = st.Append(ctx, a.ID, conversation.RoleUser, "alice's secret", nil)
	require.NoError(t, err)
	_, err = st.Append(ctx, b.ID, conversation.RoleUser, "bob's note", nil)
	require.NoError(t, err)

	history, err := st.History(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob's note", history[0].Content)
}

func TestHistoryEmptyForNewUser(t *testing.T) {
	st := setupStore(t)

	history, err := st.History(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppendPersistsToolCalls(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	c, err := st.Ensure(ctx, "alice")
	require.NoError(t, err)

	_, err = st.Append(ctx, c.ID, conversation.RoleUser, "add buy milk", nil)
	require.NoError(t, err)

	toolCalls := json.RawMessage(`[{"name":"create_item","parameters":{"title":"buy milk"},"outcome":{"success":true,"message":"Added."}}]`)
	_, err = st.Append(ctx, c.ID, conversation.RoleAssistant, "Added!", toolCalls)
	require.NoError(t, err)

	history, err := st.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].ToolCalls)
	assert.JSONEq(t, string(toolCalls), string(history[1].ToolCalls))
}

func TestAppendToMissingConversation(t *testing.T) {
	st := setupStore(t)

	_, err := st.Append(context.Background(), uuid.New(), conversation.RoleUser, "hello", nil)
	require.Error(t, err)
}
