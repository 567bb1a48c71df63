// Package workflow implements the transactional transition engine shared by
// the budget and contract lifecycles. A transition is one atomic unit of work:
// idempotency reservation, guarded state change, audit append, outbox enqueue
// and caller side effects either all commit or none do.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/idempotency"
	"github.com/grantline-io/be-grants/internal/logger"
)

// Snapshot is a point-in-time view of an entity inside a transaction. Fields
// carries every auditable column so guards and the audit diff see the same
// data the store holds.
type Snapshot struct {
	ID      string         `json:"id"`
	State   string         `json:"state"`
	Version int64          `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// Store is the per-entity persistence the engine drives. GetForUpdate must
// take a row lock so the guard evaluates against a state that cannot change
// before commit. ApplyTransition persists the new state plus field mutations
// and bumps the version.
type Store interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Snapshot, error)
	ApplyTransition(ctx context.Context, tx pgx.Tx, id, targetState string, mutations map[string]any, actorID string) (*Snapshot, error)
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Ledger is the idempotency reservation/replay protocol.
type Ledger interface {
	Reserve(ctx context.Context, tx pgx.Tx, key, actionKey, actorID, requestHash string) (*idempotency.Reservation, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, key string, response []byte) error
}

// AuditRecorder appends one immutable before/after entry per transition.
type AuditRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, actorID, actionKey, entityType, entityID string, before, after map[string]any) error
}

// OutboxWriter enqueues event records in the transition's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, entityType, entityID, eventKey string, payload map[string]any) error
}

// Event is one outbox record to enqueue with a transition.
type Event struct {
	EventKey string
	Payload  map[string]any
}

// Guard is a predicate over the locked entity snapshot. A non-nil return
// aborts the transition with a conflict.
type Guard func(s *Snapshot) error

// SideEffect runs caller-supplied work inside the transition's transaction,
// after the entity mutation (e.g. locking a budget when a contract activates).
type SideEffect func(ctx context.Context, tx pgx.Tx, before, after *Snapshot) error

// Request describes one transition.
type Request struct {
	EntityType  string
	EntityID    string
	ActorID     string
	TenantID    string
	TargetState string
	ActionKey   string

	// IdempotencyKey is optional; empty means no replay protection.
	IdempotencyKey string
	RequestHash    string

	// ExpectedVersion is the If-Match version; nil skips the check.
	ExpectedVersion *int64

	Guard       Guard
	Mutations   map[string]any
	Events      []Event
	SideEffects SideEffect
}

// Result is the outcome of a transition. Response is the serialized entity;
// on a replay it is the original response bit-for-bit and Replayed is true.
type Result struct {
	Entity   *Snapshot
	Response []byte
	Replayed bool
}

type registration struct {
	store   Store
	machine *Machine
}

// Engine executes guarded transitions for registered entity types.
type Engine struct {
	db       TxRunner
	ledger   Ledger
	audit    AuditRecorder
	outbox   OutboxWriter
	entities map[string]registration
	log      *logger.Logger
}

// NewEngine creates a transition engine.
func NewEngine(db TxRunner, ledger Ledger, audit AuditRecorder, outbox OutboxWriter, log *logger.Logger) *Engine {
	return &Engine{
		db:       db,
		ledger:   ledger,
		audit:    audit,
		outbox:   outbox,
		entities: make(map[string]registration),
		log:      log,
	}
}

// Register binds an entity type to its store and state machine.
func (e *Engine) Register(entityType string, store Store, machine *Machine) {
	e.entities[entityType] = registration{store: store, machine: machine}
}

// Execute runs one transition as a single transaction.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Result, error) {
	reg, ok := e.entities[req.EntityType]
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("no store registered for entity type %q", req.EntityType))
	}

	result := &Result{}

	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if req.IdempotencyKey != "" {
			res, err := e.ledger.Reserve(ctx, tx, req.IdempotencyKey, req.ActionKey, req.ActorID, req.RequestHash)
			if err != nil {
				return err
			}
			if !res.Won {
				if res.Completed {
					// Replay: return the original response, execute nothing.
					result.Response = res.Response
					result.Replayed = true
					return nil
				}
				return errors.Conflict("a request with this idempotency key is still in flight")
			}
		}

		before, err := reg.store.GetForUpdate(ctx, tx, req.EntityID)
		if err != nil {
			return err
		}

		if req.ExpectedVersion != nil && *req.ExpectedVersion != before.Version {
			return errors.Conflict(fmt.Sprintf(
				"version mismatch: expected %d, found %d", *req.ExpectedVersion, before.Version))
		}
		if err := reg.machine.CheckTransition(before.State, req.TargetState); err != nil {
			return err
		}
		if req.Guard != nil {
			if err := req.Guard(before); err != nil {
				return err
			}
		}

		after, err := reg.store.ApplyTransition(ctx, tx, req.EntityID, req.TargetState, req.Mutations, req.ActorID)
		if err != nil {
			return err
		}

		if err := e.audit.Record(ctx, tx, req.ActorID, req.ActionKey, req.EntityType, req.EntityID,
			snapshotFields(before), snapshotFields(after)); err != nil {
			return err
		}

		for _, ev := range req.Events {
			if err := e.outbox.Enqueue(ctx, tx, req.TenantID, req.EntityType, req.EntityID, ev.EventKey, ev.Payload); err != nil {
				return err
			}
		}

		if req.SideEffects != nil {
			if err := req.SideEffects(ctx, tx, before, after); err != nil {
				return err
			}
			// A side effect may advance the entity again (an auto-approved
			// submission); re-read so the stored response matches the row
			// being committed.
			after, err = reg.store.GetForUpdate(ctx, tx, req.EntityID)
			if err != nil {
				return err
			}
		}

		response, err := json.Marshal(after)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to serialize transition response")
		}

		if req.IdempotencyKey != "" {
			if err := e.ledger.MarkCompleted(ctx, tx, req.IdempotencyKey, response); err != nil {
				return err
			}
		}

		result.Entity = after
		result.Response = response
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		e.log.Debug().
			Str("entity_type", req.EntityType).
			Str("entity_id", req.EntityID).
			Str("action", req.ActionKey).
			Msg("idempotent replay served from ledger")
		return result, nil
	}

	e.log.Info().
		Str("entity_type", req.EntityType).
		Str("entity_id", req.EntityID).
		Str("action", req.ActionKey).
		Str("target_state", req.TargetState).
		Str("actor_id", req.ActorID).
		Msg("workflow transition committed")

	return result, nil
}

// snapshotFields merges state and version into the auditable field map.
func snapshotFields(s *Snapshot) map[string]any {
	fields := make(map[string]any, len(s.Fields)+2)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields["status"] = s.State
	fields["version"] = s.Version
	return fields
}

// RequireState returns a guard asserting the entity is currently in one of
// the given states. The adjacency check already constrains reachability; this
// is for transitions that need a stricter precondition message.
func RequireState(states ...string) Guard {
	return func(s *Snapshot) error {
		for _, st := range states {
			if s.State == st {
				return nil
			}
		}
		return errors.Conflict(fmt.Sprintf("entity must be in %v, currently %s", states, s.State))
	}
}

// RequireField returns a guard asserting a snapshot field is non-empty,
// e.g. the generated document reference before submission.
func RequireField(field, message string) Guard {
	return func(s *Snapshot) error {
		v, ok := s.Fields[field]
		if !ok || v == nil {
			return errors.Conflict(message)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return errors.Conflict(message)
		}
		return nil
	}
}

// Guards composes guards; the first failure wins.
func Guards(guards ...Guard) Guard {
	return func(s *Snapshot) error {
		for _, g := range guards {
			if g == nil {
				continue
			}
			if err := g(s); err != nil {
				return err
			}
		}
		return nil
	}
}
