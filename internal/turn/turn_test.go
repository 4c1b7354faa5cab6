package turn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/resolver"
	"github.com/tasktalk/tasktalk/internal/tools"
)

type fakeUsers struct {
	mu        sync.Mutex
	ensureErr error
	ensured   []string
}

func (f *fakeUsers) Ensure(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, id)
	return f.ensureErr
}

type appended struct {
	role      string
	content   string
	toolCalls json.RawMessage
}

type fakeConversations struct {
	mu         sync.Mutex
	ensureErr  error
	historyErr error
	// appendErr fails appends for the given role only.
	appendErr     error
	appendErrRole string

	history []conversation.Message
	appends []appended
	convID  uuid.UUID
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convID: uuid.New()}
}

func (f *fakeConversations) Ensure(_ context.Context, owner string) (*conversation.Conversation, error) {
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return &conversation.Conversation{ID: f.convID, OwnerID: owner}, nil
}

func (f *fakeConversations) Append(_ context.Context, _ uuid.UUID, role, content string, toolCalls json.RawMessage) (*conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil && (f.appendErrRole == "" || f.appendErrRole == role) {
		return nil, f.appendErr
	}
	f.appends = append(f.appends, appended{role: role, content: content, toolCalls: toolCalls})
	return &conversation.Message{ID: uuid.New(), Role: role, Content: content}, nil
}

func (f *fakeConversations) History(_ context.Context, _ string) ([]conversation.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

type fakeDispatcher struct {
	results []tools.Result
	err     error
	calls   [][]tools.Call
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ string, calls []tools.Call) ([]tools.Result, error) {
	f.calls = append(f.calls, calls)
	return f.results, f.err
}

type fakeResolver struct {
	result *resolver.Result
	err    error
	// block makes Resolve wait for ctx cancellation, simulating a slow
	// model.
	block bool
}

func (f *fakeResolver) Resolve(ctx context.Context, _ []conversation.Message, _ string) (*resolver.Result, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func newTestOrchestrator(users *fakeUsers, convs *fakeConversations, d *fakeDispatcher, r *fakeResolver) *Orchestrator {
	return New(users, convs, d, r, time.Second, nil)
}

func TestHandleHappyPath(t *testing.T) {
	users := &fakeUsers{}
	convs := newFakeConversations()
	dispatcher := &fakeDispatcher{results: []tools.Result{
		{Name: tools.NameCreateItem, Outcome: tools.Outcome{Success: true, Message: `Added "buy milk" to your list.`}},
	}}
	res := &fakeResolver{result: &resolver.Result{
		Reply: "Added buy milk!",
		Calls: []tools.Call{{Create: &tools.CreateParams{Title: "buy milk"}}},
	}}

	reply := newTestOrchestrator(users, convs, dispatcher, res).Handle(context.Background(), "alice", "add buy milk")

	require.NotNil(t, reply)
	assert.Equal(t, "Added buy milk!", reply.Reply)
	assert.Empty(t, reply.ErrorCode)
	require.Len(t, reply.ToolCalls, 1)
	assert.True(t, reply.ToolCalls[0].Outcome.Success)

	assert.Equal(t, []string{"alice"}, users.ensured)
	require.Len(t, convs.appends, 2)
	assert.Equal(t, conversation.RoleUser, convs.appends[0].role)
	assert.Equal(t, "add buy milk", convs.appends[0].content)
	assert.Nil(t, convs.appends[0].toolCalls, "user messages carry no tool calls")
	assert.Equal(t, conversation.RoleAssistant, convs.appends[1].role)
	assert.Equal(t, "Added buy milk!", convs.appends[1].content)
	assert.NotEmpty(t, convs.appends[1].toolCalls, "executed calls persist with the assistant message")
}

func TestHandleChitChatPersistsNoToolCalls(t *testing.T) {
	convs := newFakeConversations()
	res := &fakeResolver{result: &resolver.Result{Reply: "Hello!"}}

	reply := newTestOrchestrator(&fakeUsers{}, convs, &fakeDispatcher{}, res).Handle(context.Background(), "alice", "hi")

	assert.Equal(t, "Hello!", reply.Reply)
	assert.NotNil(t, reply.ToolCalls)
	assert.Empty(t, reply.ToolCalls)
	require.Len(t, convs.appends, 2)
	assert.Nil(t, convs.appends[1].toolCalls)
}

func TestHandleHistoryFailureWritesNothing(t *testing.T) {
	convs := newFakeConversations()
	convs.historyErr = errors.New("connection refused")

	reply := newTestOrchestrator(&fakeUsers{}, convs, &fakeDispatcher{}, &fakeResolver{}).Handle(context.Background(), "alice", "hello")

	assert.Equal(t, CodeInfrastructure, reply.ErrorCode)
	assert.Empty(t, convs.appends, "nothing may be written before the history loads")
	assert.NotContains(t, reply.Reply, "connection refused")
}

func TestHandleResolverFailureKeepsUserMessage(t *testing.T) {
	convs := newFakeConversations()
	res := &fakeResolver{err: resolver.ErrUnavailable}

	reply := newTestOrchestrator(&fakeUsers{}, convs, &fakeDispatcher{}, res).Handle(context.Background(), "alice", "add buy milk")

	assert.Equal(t, CodeResolver, reply.ErrorCode)
	assert.Empty(t, reply.ToolCalls)

	// The user's message survives the failed turn, but no assistant
	// message is recorded for it.
	require.Len(t, convs.appends, 1)
	assert.Equal(t, conversation.RoleUser, convs.appends[0].role)
	assert.Equal(t, "add buy milk", convs.appends[0].content)
}

func TestHandleResolverTimeout(t *testing.T) {
	convs := newFakeConversations()
	o := New(&fakeUsers{}, convs, &fakeDispatcher{}, &fakeResolver{block: true}, 20*time.Millisecond, nil)

	start := time.Now()
	reply := o.Handle(context.Background(), "alice", "add buy milk")

	assert.Less(t, time.Since(start), time.Second, "the turn must not hang on a slow model")
	assert.Equal(t, CodeResolver, reply.ErrorCode)
	require.Len(t, convs.appends, 1, "user message persists despite the timeout")
	assert.Equal(t, conversation.RoleUser, convs.appends[0].role, "a timed-out turn records no assistant message")
}

func TestHandlePartialTurn(t *testing.T) {
	convs := newFakeConversations()
	partial := &tools.PartialTurnError{Executed: 1, Total: 3, Failed: tools.NameListItems}
	dispatcher := &fakeDispatcher{
		results: []tools.Result{
			{Name: tools.NameCreateItem, Outcome: tools.Outcome{Success: true}},
			{Name: tools.NameListItems, Outcome: tools.Outcome{Success: false, Message: "Something went wrong."}},
		},
		err: partial,
	}
	res := &fakeResolver{result: &resolver.Result{Reply: "Working on it"}}

	reply := newTestOrchestrator(&fakeUsers{}, convs, dispatcher, res).Handle(context.Background(), "alice", "do three things")

	assert.Equal(t, CodePartialTurn, reply.ErrorCode)
	assert.Contains(t, reply.Reply, "1 of 3")
	require.Len(t, reply.ToolCalls, 2, "completed and failed calls are reported")
	require.Len(t, convs.appends, 2, "the partial outcome is still recorded")
}

func TestHandleDispatchInfrastructureError(t *testing.T) {
	convs := newFakeConversations()
	dispatcher := &fakeDispatcher{err: errors.New("tx begin: broken pipe")}
	res := &fakeResolver{result: &resolver.Result{
		Reply: "ok",
		Calls: []tools.Call{{List: &tools.ListParams{}}},
	}}

	reply := newTestOrchestrator(&fakeUsers{}, convs, dispatcher, res).Handle(context.Background(), "alice", "list")

	assert.Equal(t, CodeInfrastructure, reply.ErrorCode)
	assert.NotContains(t, reply.Reply, "broken pipe")
}

func TestHandleAssistantPersistFailure(t *testing.T) {
	convs := newFakeConversations()
	convs.appendErr = errors.New("disk full")
	convs.appendErrRole = conversation.RoleAssistant
	res := &fakeResolver{result: &resolver.Result{Reply: "Hello!"}}

	reply := newTestOrchestrator(&fakeUsers{}, convs, &fakeDispatcher{}, res).Handle(context.Background(), "alice", "hi")

	// The caller never sees a reply that is not durably recorded.
	assert.Equal(t, CodeInfrastructure, reply.ErrorCode)
	assert.NotContains(t, reply.Reply, "disk full")
}

func TestHandleConcurrentTurns(t *testing.T) {
	defer goleak.VerifyNone(t)

	users := &fakeUsers{}
	convs := newFakeConversations()
	res := &fakeResolver{result: &resolver.Result{Reply: "done"}}
	o := newTestOrchestrator(users, convs, &fakeDispatcher{}, res)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			reply := o.Handle(context.Background(), "alice", "hello")
			assert.Equal(t, "done", reply.Reply)
		}()
	}
	wg.Wait()

	assert.Len(t, users.ensured, workers)
	assert.Len(t, convs.appends, workers*2)
}
