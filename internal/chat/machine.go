package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dataloom/internal/llm"
	"dataloom/internal/metrics"
	"dataloom/internal/recordstore"
	"dataloom/internal/session"
	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

var (
	// ErrAwaitingConfirmation rejects free-text input while a proposal waits
	// for the user's decision.
	ErrAwaitingConfirmation = errors.New("a proposed action is awaiting confirmation")
	// ErrBusy rejects a submission while another one for the same session is
	// still in flight.
	ErrBusy = errors.New("session is processing another message")
	// ErrNoPending rejects Confirm/Cancel when nothing is parked.
	ErrNoPending = errors.New("no action awaiting confirmation")
	// ErrRateLimited rejects a submission over the hourly budget.
	ErrRateLimited = errors.New("hourly message limit reached")
)

const (
	ackDone      = "Done. I've made the change."
	ackCancelled = "Okay, I've cancelled that action."

	msgGatewayError = "Sorry, I encountered an error while contacting the assistant. Please try again."
	msgFallback     = "Sorry, I couldn't make sense of the assistant's response. Please try rephrasing."
)

// Gateway is the slice of the model client the machine needs.
type Gateway interface {
	Propose(ctx context.Context, req llm.ProposeRequest) (llm.Reply, error)
}

// StoreResolver yields the record store backing a workspace. Hosted
// workspaces resolve to a PostgREST adapter, everything else to the local
// store.
type StoreResolver interface {
	Resolve(ctx context.Context, ws storage.Workspace) (recordstore.Store, error)
}

type StoreResolverFunc func(ctx context.Context, ws storage.Workspace) (recordstore.Store, error)

func (f StoreResolverFunc) Resolve(ctx context.Context, ws storage.Workspace) (recordstore.Store, error) {
	return f(ctx, ws)
}

// Machine is the tool-call confirmation state machine. Each session is either
// idle or holds exactly one proposed tool call awaiting the user's decision;
// no mutation reaches the record store without an explicit Confirm.
type Machine struct {
	log      zerolog.Logger
	db       *storage.Store
	gateway  Gateway
	resolver StoreResolver
	pending  *session.PendingStore
	gate     *session.InFlightGate
	limiter  *session.RateLimiter
	views    *session.ViewStore
	metrics  *metrics.Metrics
}

type Options struct {
	Logger   zerolog.Logger
	DB       *storage.Store
	Gateway  Gateway
	Resolver StoreResolver
	Pending  *session.PendingStore
	Gate     *session.InFlightGate
	Limiter  *session.RateLimiter
	Views    *session.ViewStore
	Metrics  *metrics.Metrics
}

func NewMachine(opts Options) (*Machine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("db is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("store resolver is required")
	}
	if opts.Pending == nil || opts.Gate == nil || opts.Views == nil {
		return nil, fmt.Errorf("session state stores are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	return &Machine{
		log:      opts.Logger,
		db:       opts.DB,
		gateway:  opts.Gateway,
		resolver: opts.Resolver,
		pending:  opts.Pending,
		gate:     opts.Gate,
		limiter:  opts.Limiter,
		views:    opts.Views,
		metrics:  opts.Metrics,
	}, nil
}

// SubmitResult is the transcript delta produced by one submission.
type SubmitResult struct {
	UserTurn             storage.Message
	ModelTurn            storage.Message
	AwaitingConfirmation bool
}

// Submit runs one user turn: ask the gateway for the next turn, then append
// the user message together with its outcome, either a plain reply or the
// confirmation prompt of a parked tool call. Gateway and parse failures are
// terminal for this turn; they surface as a chat-visible model message and
// leave the session idle.
func (m *Machine) Submit(ctx context.Context, sessionID, text string) (SubmitResult, error) {
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	ok, err := m.gate.Acquire(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !ok {
		return SubmitResult{}, ErrBusy
	}
	defer func() { _ = m.gate.Release(ctx, sessionID) }()

	parked, err := m.pending.Get(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if parked != nil {
		return SubmitResult{}, ErrAwaitingConfirmation
	}

	if m.limiter != nil {
		allowed, _, _, err := m.limiter.Allow(ctx, sessionID, time.Now())
		if err != nil {
			return SubmitResult{}, err
		}
		if !allowed {
			m.metrics.RateLimited.Inc()
			return SubmitResult{}, ErrRateLimited
		}
	}
	m.metrics.Submissions.Inc()

	ws, schema, _, err := m.loadWorkspace(ctx, sess.WorkspaceID)
	if err != nil {
		return SubmitResult{}, err
	}
	store, err := m.resolver.Resolve(ctx, ws)
	if err != nil {
		return SubmitResult{}, err
	}

	history, err := m.db.ListMessages(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	records, err := store.List(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("record sample unavailable")
		records = nil
	}

	turns := make([]llm.Turn, 0, len(history)+1)
	for _, msg := range history {
		turns = append(turns, llm.Turn{Role: msg.Role, Content: msg.Content})
	}
	turns = append(turns, llm.Turn{Role: storage.RoleUser, Content: text})

	view := m.viewConfig(ws)
	reply, err := m.gateway.Propose(ctx, llm.ProposeRequest{
		Schema:  schema,
		Records: records,
		History: turns,
		View:    view.Kind,
	})
	if err != nil {
		content := msgGatewayError
		if errors.Is(err, llm.ErrMalformedReply) {
			m.metrics.MalformedReplies.Inc()
			content = msgFallback
		} else {
			m.metrics.GatewayFailures.Inc()
		}
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("gateway turn failed")
		userTurn, modelTurn, appendErr := m.appendTurns(ctx, sessionID, text, content)
		if appendErr != nil {
			return SubmitResult{}, appendErr
		}
		return SubmitResult{UserTurn: userTurn, ModelTurn: modelTurn}, nil
	}

	if reply.ToolCall == nil {
		userTurn, modelTurn, err := m.appendTurns(ctx, sessionID, text, reply.Text)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{UserTurn: userTurn, ModelTurn: modelTurn}, nil
	}

	// Claim the slot before writing the transcript so a lost claim leaves no
	// orphaned user turn behind.
	claimed, err := m.pending.Put(ctx, sessionID, *reply.ToolCall)
	if err != nil {
		return SubmitResult{}, err
	}
	if !claimed {
		return SubmitResult{}, ErrAwaitingConfirmation
	}
	m.metrics.ToolCallsProposed.Inc()

	userTurn, modelTurn, err := m.appendTurns(ctx, sessionID, text, reply.ToolCall.ConfirmationMessage)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{UserTurn: userTurn, ModelTurn: modelTurn, AwaitingConfirmation: true}, nil
}

// appendTurns writes the user turn and its model turn back to back, keeping
// the append order user → model for every outcome of a submission.
func (m *Machine) appendTurns(ctx context.Context, sessionID, userText, modelText string) (storage.Message, storage.Message, error) {
	userTurn, err := m.db.AppendMessage(ctx, sessionID, storage.RoleUser, userText)
	if err != nil {
		return storage.Message{}, storage.Message{}, err
	}
	modelTurn, err := m.db.AppendMessage(ctx, sessionID, storage.RoleModel, modelText)
	if err != nil {
		return storage.Message{}, storage.Message{}, err
	}
	return userTurn, modelTurn, nil
}

// Confirm dispatches the parked tool call. The pending slot is cleared before
// dispatch so every outcome, success or failure, returns the session to idle;
// failed dispatches are never retried.
func (m *Machine) Confirm(ctx context.Context, sessionID string) (storage.Message, error) {
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return storage.Message{}, err
	}

	ok, err := m.gate.Acquire(ctx, sessionID)
	if err != nil {
		return storage.Message{}, err
	}
	if !ok {
		return storage.Message{}, ErrBusy
	}
	defer func() { _ = m.gate.Release(ctx, sessionID) }()

	call, err := m.pending.Get(ctx, sessionID)
	if err != nil {
		return storage.Message{}, err
	}
	if call == nil {
		return storage.Message{}, ErrNoPending
	}
	if err := m.pending.Clear(ctx, sessionID); err != nil {
		return storage.Message{}, err
	}
	m.metrics.ToolCallsConfirmed.Inc()

	ack := ackDone
	if err := m.dispatch(ctx, sess, *call); err != nil {
		m.metrics.ToolCallsFailed.Inc()
		m.log.Error().Err(err).
			Str("session_id", sessionID).
			Str("tool", string(call.Name)).
			Msg("confirmed action failed")
		ack = fmt.Sprintf("Sorry, I couldn't apply that change: %v", err)
	}
	return m.db.AppendMessage(ctx, sessionID, storage.RoleModel, ack)
}

// Cancel discards the parked tool call without touching the record store and
// appends exactly one cancellation acknowledgment.
func (m *Machine) Cancel(ctx context.Context, sessionID string) (storage.Message, error) {
	ok, err := m.gate.Acquire(ctx, sessionID)
	if err != nil {
		return storage.Message{}, err
	}
	if !ok {
		return storage.Message{}, ErrBusy
	}
	defer func() { _ = m.gate.Release(ctx, sessionID) }()

	call, err := m.pending.Get(ctx, sessionID)
	if err != nil {
		return storage.Message{}, err
	}
	if call == nil {
		return storage.Message{}, ErrNoPending
	}
	if err := m.pending.Clear(ctx, sessionID); err != nil {
		return storage.Message{}, err
	}
	m.metrics.ToolCallsCancelled.Inc()

	return m.db.AppendMessage(ctx, sessionID, storage.RoleModel, ackCancelled)
}

// Pending reports the parked proposal, if any.
func (m *Machine) Pending(ctx context.Context, sessionID string) (*llm.ToolCall, error) {
	return m.pending.Get(ctx, sessionID)
}

func (m *Machine) dispatch(ctx context.Context, sess storage.Session, call llm.ToolCall) error {
	ws, schema, _, err := m.loadWorkspace(ctx, sess.WorkspaceID)
	if err != nil {
		return err
	}

	switch args := call.Args.(type) {
	case llm.CreateRecordArgs:
		if err := workspace.ValidateFields(schema, args.Record); err != nil {
			return err
		}
		store, err := m.resolver.Resolve(ctx, ws)
		if err != nil {
			return err
		}
		rec, err := store.Create(ctx, args.Record)
		if err != nil {
			return err
		}
		m.metrics.StoreMutations.Inc()
		m.audit(ctx, sess, "record.create", map[string]any{"record_id": rec.ID})
		return nil

	case llm.UpdateRecordArgs:
		if err := workspace.ValidateFields(schema, args.Updates); err != nil {
			return err
		}
		store, err := m.resolver.Resolve(ctx, ws)
		if err != nil {
			return err
		}
		if _, err := store.Update(ctx, args.RecordID, args.Updates); err != nil {
			return err
		}
		m.metrics.StoreMutations.Inc()
		m.audit(ctx, sess, "record.update", map[string]any{"record_id": args.RecordID})
		return nil

	case llm.DeleteRecordArgs:
		store, err := m.resolver.Resolve(ctx, ws)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, args.RecordID); err != nil {
			return err
		}
		m.metrics.StoreMutations.Inc()
		m.audit(ctx, sess, "record.delete", map[string]any{"record_id": args.RecordID})
		return nil

	case llm.SearchRecordsArgs:
		for _, f := range args.Filters {
			if err := f.Validate(schema); err != nil {
				return err
			}
		}
		if err := m.views.Set(ctx, sess.ID, session.ViewState{Filters: args.Filters}); err != nil {
			return err
		}
		m.audit(ctx, sess, "view.filter", map[string]any{"filters": len(args.Filters)})
		return nil

	case llm.ConfigureViewArgs:
		cfg := workspace.ViewConfig{Kind: args.View, KanbanColumnID: args.KanbanColumnID}
		if err := cfg.Validate(schema); err != nil {
			return err
		}
		viewJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := m.db.SetWorkspaceView(ctx, ws.ID, string(viewJSON)); err != nil {
			return err
		}
		m.audit(ctx, sess, "view.configure", map[string]any{"view": string(args.View)})
		return nil

	default:
		return fmt.Errorf("unrecognized tool %q", call.Name)
	}
}

func (m *Machine) loadWorkspace(ctx context.Context, workspaceID string) (storage.Workspace, workspace.Schema, workspace.ViewConfig, error) {
	ws, err := m.db.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return storage.Workspace{}, workspace.Schema{}, workspace.ViewConfig{}, err
	}
	var schema workspace.Schema
	if err := json.Unmarshal([]byte(ws.SchemaJSON), &schema); err != nil {
		return storage.Workspace{}, workspace.Schema{}, workspace.ViewConfig{}, fmt.Errorf("decode workspace schema: %w", err)
	}
	return ws, schema, m.viewConfig(ws), nil
}

func (m *Machine) viewConfig(ws storage.Workspace) workspace.ViewConfig {
	var cfg workspace.ViewConfig
	if err := json.Unmarshal([]byte(ws.ViewJSON), &cfg); err != nil || cfg.Kind == "" {
		return workspace.ViewConfig{Kind: workspace.ViewTable}
	}
	return cfg
}

func (m *Machine) audit(ctx context.Context, sess storage.Session, action string, meta map[string]any) {
	metaJSON, _ := json.Marshal(meta)
	if err := m.db.LogAction(ctx, storage.AuditEntry{
		WorkspaceID: sess.WorkspaceID,
		SessionID:   sess.ID,
		Action:      action,
		MetaJSON:    string(metaJSON),
	}); err != nil {
		m.log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}
