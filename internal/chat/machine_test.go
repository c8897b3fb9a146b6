package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dataloom/internal/llm"
	"dataloom/internal/recordstore"
	"dataloom/internal/session"
	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

type fakeGateway struct {
	reply llm.Reply
	err   error
	calls int
	hook  func()
}

func (g *fakeGateway) Propose(ctx context.Context, req llm.ProposeRequest) (llm.Reply, error) {
	g.calls++
	if g.hook != nil {
		g.hook()
	}
	return g.reply, g.err
}

type fakeRecordStore struct {
	records map[string]workspace.Record
	creates int
	updates int
	deletes int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]workspace.Record{}}
}

func (s *fakeRecordStore) Create(ctx context.Context, fields map[string]any) (workspace.Record, error) {
	s.creates++
	rec := workspace.Record{ID: fmt.Sprintf("r%d", len(s.records)+1), Fields: fields, CreatedAt: time.Now()}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *fakeRecordStore) Update(ctx context.Context, id string, fields map[string]any) (workspace.Record, error) {
	s.updates++
	rec, ok := s.records[id]
	if !ok {
		return workspace.Record{}, recordstore.ErrNotFound
	}
	rec = rec.Merge(fields)
	s.records[id] = rec
	return rec, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, id string) error {
	s.deletes++
	if _, ok := s.records[id]; !ok {
		return recordstore.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeRecordStore) List(ctx context.Context) ([]workspace.Record, error) {
	out := make([]workspace.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeRecordStore) mutations() int { return s.creates + s.updates + s.deletes }

type fixture struct {
	machine *Machine
	db      *storage.Store
	gateway *fakeGateway
	records *fakeRecordStore
	pending *session.PendingStore
	session storage.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := storage.Open(ctx, "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ws, err := db.CreateWorkspace(ctx, storage.Workspace{
		Name: "projects",
		SchemaJSON: `{"columns":[
			{"id":"name","name":"Name","type":"text"},
			{"id":"status","name":"Status","type":"select","options":["Todo","Done"]}
		]}`,
	})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	sess, err := db.CreateSession(ctx, ws.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	gateway := &fakeGateway{}
	records := newFakeRecordStore()
	pending := session.NewPendingStore(rdb, time.Hour)

	machine, err := NewMachine(Options{
		DB:      db,
		Gateway: gateway,
		Resolver: StoreResolverFunc(func(ctx context.Context, ws storage.Workspace) (recordstore.Store, error) {
			return records, nil
		}),
		Pending: pending,
		Gate:    session.NewInFlightGate(rdb, time.Minute),
		Views:   session.NewViewStore(rdb, time.Hour),
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	return &fixture{machine: machine, db: db, gateway: gateway, records: records, pending: pending, session: sess}
}

func (f *fixture) transcript(t *testing.T) []storage.Message {
	t.Helper()
	msgs, err := f.db.ListMessages(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestSubmitTextReplyStaysIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{Text: "You have 2 open projects."}
	res, err := f.machine.Submit(ctx, f.session.ID, "how many open projects?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.AwaitingConfirmation {
		t.Fatalf("text reply must not await confirmation")
	}
	if res.ModelTurn.Content != "You have 2 open projects." {
		t.Fatalf("unexpected model turn %q", res.ModelTurn.Content)
	}

	pending, err := f.machine.Pending(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != nil {
		t.Fatalf("session should be idle, got %+v", pending)
	}
}

func TestSubmitWhilePendingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolDeleteRecord,
		ConfirmationMessage: "Delete it?",
		Args:                llm.DeleteRecordArgs{RecordID: "r1"},
	}}
	res, err := f.machine.Submit(ctx, f.session.ID, "delete the project")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.AwaitingConfirmation {
		t.Fatalf("tool call should await confirmation")
	}

	before := len(f.transcript(t))
	_, err = f.machine.Submit(ctx, f.session.ID, "actually, rename it")
	if !errors.Is(err, ErrAwaitingConfirmation) {
		t.Fatalf("expected ErrAwaitingConfirmation, got %v", err)
	}
	if got := len(f.transcript(t)); got != before {
		t.Fatalf("rejected submission must not touch the transcript: %d != %d", got, before)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("rejected submission must not reach the gateway, saw %d calls", f.gateway.calls)
	}
}

func TestConfirmUpdateAppliesExactlyOneMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.records.records["r1"] = workspace.Record{ID: "r1", Fields: map[string]any{"name": "Acme", "status": "Todo"}}

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolUpdateRecord,
		ConfirmationMessage: "Set Acme project's status to Done?",
		Args:                llm.UpdateRecordArgs{RecordID: "r1", Updates: map[string]any{"status": "Done"}},
	}}
	res, err := f.machine.Submit(ctx, f.session.ID, "set status to Done for the Acme project")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ModelTurn.Content != "Set Acme project's status to Done?" {
		t.Fatalf("confirmation prompt not surfaced: %q", res.ModelTurn.Content)
	}

	ack, err := f.machine.Confirm(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ack.Content != "Done. I've made the change." {
		t.Fatalf("unexpected ack %q", ack.Content)
	}
	if f.records.mutations() != 1 {
		t.Fatalf("expected exactly one store mutation, got %d", f.records.mutations())
	}
	if got := f.records.records["r1"].Fields["status"]; got != "Done" {
		t.Fatalf("record not updated, status=%v", got)
	}

	msgs := f.transcript(t)
	last := msgs[len(msgs)-1]
	if last.Content != "Done. I've made the change." {
		t.Fatalf("transcript must end with the done ack, got %q", last.Content)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq != msgs[i-1].Seq+1 {
			t.Fatalf("transcript seq not contiguous: %v", msgs)
		}
	}
}

func TestCancelLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.records.records["r1"] = workspace.Record{ID: "r1", Fields: map[string]any{"name": "Acme"}}

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolDeleteRecord,
		ConfirmationMessage: "Delete Acme?",
		Args:                llm.DeleteRecordArgs{RecordID: "r1"},
	}}
	if _, err := f.machine.Submit(ctx, f.session.ID, "delete acme"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := len(f.transcript(t))

	ack, err := f.machine.Cancel(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.records.mutations() != 0 {
		t.Fatalf("cancel must not touch the store, got %d mutations", f.records.mutations())
	}
	if _, ok := f.records.records["r1"]; !ok {
		t.Fatalf("record must survive a cancel")
	}
	if got := len(f.transcript(t)); got != before+1 {
		t.Fatalf("cancel must append exactly one ack, transcript grew by %d", got-before)
	}
	if ack.Role != storage.RoleModel || ack.Content == "" {
		t.Fatalf("unexpected cancellation ack %+v", ack)
	}

	pending, err := f.machine.Pending(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != nil {
		t.Fatalf("slot must be cleared after cancel")
	}
	if _, err := f.machine.Cancel(ctx, f.session.ID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("second cancel should report ErrNoPending, got %v", err)
	}
}

func TestConfirmDeleteUnknownRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolDeleteRecord,
		ConfirmationMessage: "Delete it?",
		Args:                llm.DeleteRecordArgs{RecordID: "ghost"},
	}}
	if _, err := f.machine.Submit(ctx, f.session.ID, "delete the ghost project"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ack, err := f.machine.Confirm(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("confirm must not fail hard: %v", err)
	}
	if !strings.HasPrefix(ack.Content, "Sorry") {
		t.Fatalf("expected a failure ack, got %q", ack.Content)
	}

	pending, err := f.machine.Pending(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != nil {
		t.Fatalf("slot must be cleared even when dispatch fails")
	}

	f.gateway.reply = llm.Reply{Text: "ok"}
	if _, err := f.machine.Submit(ctx, f.session.ID, "hello"); err != nil {
		t.Fatalf("session should be idle again after a failed dispatch: %v", err)
	}
}

func TestConfirmCreateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolCreateRecord,
		ConfirmationMessage: "Add the Orbit project?",
		Args:                llm.CreateRecordArgs{Record: map[string]any{"name": "Orbit", "status": "Todo"}},
	}}
	if _, err := f.machine.Submit(ctx, f.session.ID, "add a project called Orbit"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.machine.Confirm(ctx, f.session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if f.records.creates != 1 {
		t.Fatalf("expected one create, got %d", f.records.creates)
	}

	recs, _ := f.records.List(ctx)
	if len(recs) != 1 || recs[0].Fields["name"] != "Orbit" {
		t.Fatalf("created record missing: %+v", recs)
	}
}

func TestConfirmRejectsInvalidFieldValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolCreateRecord,
		ConfirmationMessage: "Add it?",
		Args:                llm.CreateRecordArgs{Record: map[string]any{"status": "NotAnOption"}},
	}}
	if _, err := f.machine.Submit(ctx, f.session.ID, "add a broken record"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ack, err := f.machine.Confirm(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.HasPrefix(ack.Content, "Sorry") {
		t.Fatalf("expected a failure ack, got %q", ack.Content)
	}
	if f.records.creates != 0 {
		t.Fatalf("invalid fields must not reach the store")
	}
}

func TestSubmitGatewayFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.err = errors.New("gateway status 503")
	res, err := f.machine.Submit(ctx, f.session.ID, "hello")
	if err != nil {
		t.Fatalf("submit should surface the failure in chat, got %v", err)
	}
	if !strings.HasPrefix(res.ModelTurn.Content, "Sorry, I encountered an error") {
		t.Fatalf("unexpected error turn %q", res.ModelTurn.Content)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("no retry allowed, saw %d gateway calls", f.gateway.calls)
	}

	pending, _ := f.machine.Pending(ctx, f.session.ID)
	if pending != nil {
		t.Fatalf("failed turn must not park a proposal")
	}
}

func TestSubmitMalformedReplyFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.err = fmt.Errorf("%w: neither text nor tool call", llm.ErrMalformedReply)
	res, err := f.machine.Submit(ctx, f.session.ID, "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ModelTurn.Content != "Sorry, I couldn't make sense of the assistant's response. Please try rephrasing." {
		t.Fatalf("unexpected fallback %q", res.ModelTurn.Content)
	}

	f.gateway.err = nil
	f.gateway.reply = llm.Reply{Text: "ok"}
	if _, err := f.machine.Submit(ctx, f.session.ID, "again"); err != nil {
		t.Fatalf("machine should stay idle after a malformed reply: %v", err)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	f := newFixture(t)
	if _, err := f.machine.Confirm(context.Background(), f.session.ID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestSubmitLostSlotClaimLeavesTranscriptClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rival := llm.ToolCall{
		Name:                llm.ToolDeleteRecord,
		ConfirmationMessage: "Delete it?",
		Args:                llm.DeleteRecordArgs{RecordID: "r1"},
	}
	f.gateway.hook = func() {
		ok, err := f.pending.Put(ctx, f.session.ID, rival)
		if err != nil || !ok {
			t.Errorf("rival park failed: ok=%v err=%v", ok, err)
		}
	}
	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolCreateRecord,
		ConfirmationMessage: "Add one?",
		Args:                llm.CreateRecordArgs{Record: map[string]any{"name": "X"}},
	}}

	_, err := f.machine.Submit(ctx, f.session.ID, "add one")
	if !errors.Is(err, ErrAwaitingConfirmation) {
		t.Fatalf("expected ErrAwaitingConfirmation, got %v", err)
	}
	if got := len(f.transcript(t)); got != 0 {
		t.Fatalf("lost slot claim must not leave transcript turns behind, got %d", got)
	}

	parked, err := f.machine.Pending(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if parked == nil || parked.Name != llm.ToolDeleteRecord {
		t.Fatalf("first proposal must keep the slot, got %+v", parked)
	}
}

func TestConfirmConfigureViewPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.reply = llm.Reply{ToolCall: &llm.ToolCall{
		Name:                llm.ToolConfigureView,
		ConfirmationMessage: "Switch to kanban grouped by status?",
		Args:                llm.ConfigureViewArgs{View: workspace.ViewKanban, KanbanColumnID: "status"},
	}}
	if _, err := f.machine.Submit(ctx, f.session.ID, "show me a kanban board"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ack, err := f.machine.Confirm(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ack.Content != "Done. I've made the change." {
		t.Fatalf("unexpected ack %q", ack.Content)
	}

	ws, err := f.db.GetWorkspace(ctx, f.session.WorkspaceID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if !strings.Contains(ws.ViewJSON, "kanban") {
		t.Fatalf("view config not persisted: %s", ws.ViewJSON)
	}
}
