// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/backroom/internal/adapter"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/scheduler"
	"github.com/jeranaias/backroom/internal/session"
	"github.com/jeranaias/backroom/internal/storage"
	"github.com/jeranaias/backroom/internal/telemetry"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Busy policies.
const (
	BusyReject = "reject"
	BusyQueue  = "queue"
)

// Config controls turn execution.
type Config struct {
	// SystemMessage seeds empty conversations. Empty disables seeding.
	SystemMessage string

	// TurnTimeout bounds each adapter call.
	TurnTimeout time.Duration

	// MaxTurnsPerRequest caps TurnRequest.TurnCount.
	MaxTurnsPerRequest int

	// BusyPolicy is BusyReject or BusyQueue.
	BusyPolicy string
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SystemMessage:      model.DefaultSystemMessage,
		TurnTimeout:        60 * time.Second,
		MaxTurnsPerRequest: 10,
		BusyPolicy:         BusyReject,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.MaxTurnsPerRequest <= 0 {
		c.MaxTurnsPerRequest = d.MaxTurnsPerRequest
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = d.BusyPolicy
	}
	return c
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Catalog resolves models and credentials. *registry.Registry implements it.
type Catalog interface {
	Resolve(modelID string) (adapter.Adapter, model.ModelConfig, error)
	ResolveCredential(ctx context.Context, userID, modelID string) (model.Credential, error)
	Roster() []string
	Has(modelID string) bool
}

// =============================================================================
// REQUEST / REPORT
// =============================================================================

// TurnRequest is one call to RunTurns.
type TurnRequest struct {
	SessionID string
	UserID    string
	UserText  string

	// ModelID selects the single-model variant when set.
	ModelID string

	TurnCount int
	Params    model.GenerationParams
}

// Turn is one committed sub-turn.
type Turn struct {
	Index     int           `json:"index"`
	ModelID   string        `json:"model_id"`
	ReplyText string        `json:"reply_text"`
	MessageID string        `json:"message_id"`
	Duration  time.Duration `json:"duration_ns"`
}

// TurnReport lists the sub-turns that committed.
type TurnReport struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`

	// Length is the conversation length after the last commit.
	Length int `json:"length"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs turns. It is the only component that mutates a conversation.
type Engine struct {
	catalog  Catalog
	store    storage.Store
	sched    scheduler.Scheduler
	locker   *session.Locker
	tracker  *session.Tracker
	recorder telemetry.Recorder

	mu  sync.RWMutex
	cfg Config
}

// New creates an engine with round-robin scheduling and default config.
func New(catalog Catalog, store storage.Store) *Engine {
	return &Engine{
		catalog:  catalog,
		store:    store,
		sched:    scheduler.RoundRobin{},
		locker:   session.NewLocker(),
		tracker:  session.NewTracker(session.DefaultConfig()),
		recorder: telemetry.Nop{},
		cfg:      DefaultConfig(),
	}
}

// WithConfig sets the engine config. Zero fields take defaults.
func (e *Engine) WithConfig(cfg Config) *Engine {
	e.SetConfig(cfg)
	return e
}

// WithScheduler replaces the round-robin scheduler.
func (e *Engine) WithScheduler(s scheduler.Scheduler) *Engine {
	e.sched = s
	return e
}

// WithRecorder sets the telemetry sink.
func (e *Engine) WithRecorder(r telemetry.Recorder) *Engine {
	if r == nil {
		r = telemetry.Nop{}
	}
	e.recorder = r
	return e
}

// WithTracker replaces the session tracker.
func (e *Engine) WithTracker(t *session.Tracker) *Engine {
	e.tracker = t
	return e
}

// SetConfig swaps the config; turns already running keep the old one.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.withDefaults()
}

// Config returns the current config.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Tracker returns the session tracker.
func (e *Engine) Tracker() *session.Tracker {
	return e.tracker
}

// =============================================================================
// RUN TURNS
// =============================================================================

// RunTurns executes req.TurnCount sub-turns. On failure the report holds the
// sub-turns committed before the error; nothing from the failed sub-turn is kept.
func (e *Engine) RunTurns(ctx context.Context, req TurnRequest) (TurnReport, error) {
	cfg := e.Config()
	report := TurnReport{SessionID: req.SessionID, Turns: []Turn{}}

	if err := validateRequest(req, cfg); err != nil {
		e.fail(ctx, req, -1, "", 0, err)
		return report, err
	}

	key := session.Key(req.UserID, req.SessionID)
	release, err := e.acquire(ctx, key, cfg.BusyPolicy)
	if err != nil {
		e.fail(ctx, req, -1, "", 0, err)
		return report, err
	}
	defer release()

	e.tracker.Touch(key, req.UserID)

	conv, err := e.load(ctx, key)
	if err != nil {
		e.fail(ctx, req, -1, "", 0, err)
		return report, err
	}
	report.Length = conv.Len()

	roster := e.catalog.Roster()
	if req.ModelID != "" {
		if !e.catalog.Has(req.ModelID) {
			err := turnerr.New(turnerr.UnsupportedModel, "unsupported model: %s", req.ModelID)
			e.fail(ctx, req, -1, req.ModelID, 0, err)
			return report, err
		}
		roster = []string{req.ModelID}
	}

	input := req.UserText
	for i := 0; i < req.TurnCount; i++ {
		turn, next, err := e.runOne(ctx, req, cfg, roster, conv, input, i)
		if err != nil {
			return report, err
		}
		conv = next
		report.Turns = append(report.Turns, turn)
		report.Length = conv.Len()

		if req.ModelID == "" {
			input = turn.ReplyText
		} else {
			input = req.UserText
		}
	}
	return report, nil
}

// runOne performs one sub-turn on a clone of conv and returns the committed clone.
func (e *Engine) runOne(ctx context.Context, req TurnRequest, cfg Config, roster []string, conv *model.Conversation, input string, index int) (Turn, *model.Conversation, error) {
	ev := telemetry.NewTurnEvent(req.SessionID, req.UserID, index)
	ev.State = telemetry.StateAwaitingModelSelection
	e.recorder.Record(ctx, ev)

	work := conv.Clone()
	if work.IsEmpty() {
		system := req.Params.SystemOverride
		if system == "" {
			system = cfg.SystemMessage
		}
		if system != "" {
			if _, err := work.SeedSystem(system); err != nil {
				return Turn{}, nil, e.fail(ctx, req, index, "", 0, turnerr.Wrap(turnerr.Unknown, err, "seed system message"))
			}
		}
	}
	work.AppendUser(input)

	modelID, err := e.sched.Next(roster, work)
	if err != nil {
		return Turn{}, nil, e.fail(ctx, req, index, "", 0, asTurnErr(err, turnerr.ConfigError))
	}
	a, mcfg, err := e.catalog.Resolve(modelID)
	if err != nil {
		return Turn{}, nil, e.fail(ctx, req, index, modelID, 0, asTurnErr(err, turnerr.UnsupportedModel))
	}
	cred, err := e.catalog.ResolveCredential(ctx, req.UserID, modelID)
	if err != nil {
		return Turn{}, nil, e.fail(ctx, req, index, modelID, 0, asTurnErr(err, turnerr.MissingCredential))
	}
	params := req.Params.Resolve(mcfg)

	ev.ModelID = modelID
	ev.State = telemetry.StateAwaitingAdapterResult
	e.recorder.Record(ctx, ev)

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, cfg.TurnTimeout)
	reply, err := a.Generate(callCtx, mcfg, work.Outgoing(req.Params.SystemOverride), cred, params)
	deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)
	if err != nil {
		if k := turnerr.KindOf(err); deadline && k != turnerr.HTTPError && k != turnerr.TransportError {
			err = turnerr.Wrap(turnerr.TransportError, err, "turn timed out after %s", cfg.TurnTimeout)
		}
		return Turn{}, nil, e.fail(ctx, req, index, modelID, elapsed, asTurnErr(err, turnerr.Unknown))
	}

	msg, err := work.AppendAssistant(reply, modelID)
	if err != nil {
		return Turn{}, nil, e.fail(ctx, req, index, modelID, elapsed, turnerr.Wrap(turnerr.Unknown, err, "append reply"))
	}
	if err := e.store.Save(ctx, session.Key(req.UserID, req.SessionID), work); err != nil {
		return Turn{}, nil, e.fail(ctx, req, index, modelID, elapsed, turnerr.Wrap(turnerr.StorageFailure, err, "save conversation"))
	}

	ev.State = telemetry.StateCommitted
	ev.Duration = elapsed
	ev.At = time.Now().UTC()
	e.recorder.Record(ctx, ev)
	e.tracker.RecordTurn(session.Key(req.UserID, req.SessionID), true)
	log.Printf("TURN_COMMITTED | session=%s model=%s index=%d length=%d duration=%s",
		req.SessionID, modelID, index, work.Len(), elapsed.Round(time.Millisecond))

	return Turn{
		Index:     index,
		ModelID:   modelID,
		ReplyText: reply,
		MessageID: msg.ID,
		Duration:  elapsed,
	}, work, nil
}

// fail logs, records and returns err annotated with the model.
func (e *Engine) fail(ctx context.Context, req TurnRequest, index int, modelID string, elapsed time.Duration, err error) error {
	if modelID != "" {
		err = turnerr.WithModel(err, modelID)
	}
	kind := turnerr.KindOf(err)
	status := turnerr.StatusOf(err)

	log.Printf("TURN_FAILED | kind=%s model=%s session=%s index=%d status=%d error=%v",
		kind, modelID, req.SessionID, index, status, err)

	ev := telemetry.NewTurnEvent(req.SessionID, req.UserID, index)
	ev.ModelID = modelID
	ev.State = telemetry.StateFailed
	ev.ErrorKind = string(kind)
	ev.Status = status
	ev.Duration = elapsed
	e.recorder.Record(ctx, ev)

	if kind != turnerr.InvalidInput && kind != turnerr.SessionBusy {
		e.tracker.RecordTurn(session.Key(req.UserID, req.SessionID), false)
	}
	return err
}

func validateRequest(req TurnRequest, cfg Config) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return turnerr.New(turnerr.InvalidInput, "session id is required")
	}
	if !session.ValidID(req.SessionID) {
		return turnerr.New(turnerr.InvalidInput, "invalid session id")
	}
	if strings.TrimSpace(req.UserText) == "" {
		return turnerr.New(turnerr.InvalidInput, "user text is empty")
	}
	if req.TurnCount < 1 || req.TurnCount > cfg.MaxTurnsPerRequest {
		return turnerr.New(turnerr.InvalidInput, "turn_count must be between 1 and %d, got %d", cfg.MaxTurnsPerRequest, req.TurnCount)
	}
	if err := req.Params.Validate(); err != nil {
		return turnerr.Wrap(turnerr.InvalidInput, err, "invalid generation params")
	}
	return nil
}

// asTurnErr keeps turn errors as they are and classifies anything else as kind.
func asTurnErr(err error, kind turnerr.Kind) error {
	if turnerr.KindOf(err) != turnerr.Unknown {
		return err
	}
	return turnerr.Wrap(kind, err, "unexpected error")
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

func (e *Engine) acquire(ctx context.Context, sessionID, policy string) (func(), error) {
	if policy == BusyQueue {
		release, err := e.locker.Acquire(ctx, sessionID)
		if err != nil {
			return nil, turnerr.Wrap(turnerr.SessionBusy, err, "gave up waiting for session")
		}
		return release, nil
	}
	release, err := e.locker.TryAcquire(sessionID)
	if err != nil {
		return nil, turnerr.Wrap(turnerr.SessionBusy, err, "a turn is already running for this session")
	}
	return release, nil
}

func (e *Engine) load(ctx context.Context, sessionID string) (*model.Conversation, error) {
	conv, err := e.store.Load(ctx, sessionID)
	if errors.Is(err, storage.ErrInvalidSessionID) {
		return nil, turnerr.Wrap(turnerr.InvalidInput, err, "invalid session id")
	}
	if err != nil {
		return nil, turnerr.Wrap(turnerr.StorageFailure, err, "load conversation")
	}
	return conv, nil
}

// Clear deletes userID's conversation for sessionID. Clearing an empty
// session succeeds.
func (e *Engine) Clear(ctx context.Context, userID, sessionID string) error {
	if !session.ValidID(sessionID) {
		return turnerr.New(turnerr.InvalidInput, "invalid session id")
	}
	key := session.Key(userID, sessionID)
	release, err := e.acquire(ctx, key, e.Config().BusyPolicy)
	if err != nil {
		return err
	}
	defer release()

	if err := e.store.Delete(ctx, key); err != nil {
		return turnerr.Wrap(turnerr.StorageFailure, err, "clear conversation")
	}
	e.tracker.Forget(key)
	log.Printf("SESSION_CLEARED | session=%s user=%s", sessionID, userID)
	return nil
}

// Transcript returns userID's stored conversation for sessionID. Another
// user's session with the same id is never visible.
func (e *Engine) Transcript(ctx context.Context, userID, sessionID string) (*model.Conversation, error) {
	if !session.ValidID(sessionID) {
		return nil, turnerr.New(turnerr.InvalidInput, "invalid session id")
	}
	return e.load(ctx, session.Key(userID, sessionID))
}

// Sessions lists userID's stored sessions, most recent first.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]storage.Meta, error) {
	metas, err := e.store.List(ctx)
	if err != nil {
		return nil, turnerr.Wrap(turnerr.StorageFailure, err, "list sessions")
	}
	out := make([]storage.Meta, 0, len(metas))
	for _, m := range metas {
		if id, ok := session.SessionOf(userID, m.SessionID); ok {
			m.SessionID = id
			out = append(out, m)
		}
	}
	return out, nil
}

// Roster returns the multi-model roster.
func (e *Engine) Roster() []string {
	return e.catalog.Roster()
}
