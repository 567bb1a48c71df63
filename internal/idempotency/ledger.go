// Package idempotency implements the reservation/replay ledger that makes
// client retries safe. A key maps to exactly one action outcome; racing
// reservations for a brand-new key are serialized by the unique index on
// idempotency_records.key, never by check-then-insert.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/grantline-io/be-grants/internal/errors"
)

// Reservation is the outcome of Reserve. Won means this caller inserted the
// row and must execute the action. Completed means a previous execution
// finished and Response holds its stored result verbatim. Neither flag set
// means another request holds the key in flight.
type Reservation struct {
	Won       bool
	Completed bool
	Response  []byte
}

// Ledger persists idempotency records. All operations run on the caller's
// transaction so a failed transition releases its reservation on rollback.
type Ledger struct{}

// NewLedger creates a ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve attempts to claim key for this request. The insert relies on
// ON CONFLICT DO NOTHING against the key's unique index; the loser reads the
// winner's row to decide between replay, in-flight and key reuse.
func (l *Ledger) Reserve(ctx context.Context, tx pgx.Tx, key, actionKey, actorID, requestHash string) (*Reservation, error) {
	insert := `
		INSERT INTO idempotency_records (key, action_key, actor_id, request_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
		RETURNING key
	`

	var inserted string
	err := tx.QueryRow(ctx, insert, key, actionKey, actorID, requestHash).Scan(&inserted)
	if err == nil {
		return &Reservation{Won: true}, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to reserve idempotency key")
	}

	// Key exists; read the winner's row.
	read := `
		SELECT request_hash, response, completed_at
		FROM idempotency_records
		WHERE key = $1
	`

	var (
		storedHash  string
		response    []byte
		completedAt *time.Time
	)
	if err := tx.QueryRow(ctx, read, key).Scan(&storedHash, &response, &completedAt); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read idempotency record")
	}

	return resolveExisting(storedHash, requestHash, response, completedAt != nil)
}

// resolveExisting classifies a lost reservation against the winner's row:
// a different hash is key reuse, a completed row is a replay, anything else
// is still in flight.
func resolveExisting(storedHash, requestHash string, response []byte, completed bool) (*Reservation, error) {
	if storedHash != requestHash {
		return nil, errors.New(errors.ErrCodeIdempotencyReuse,
			"idempotency key was already used with a different request payload")
	}
	if completed {
		return &Reservation{Completed: true, Response: response}, nil
	}
	return &Reservation{}, nil
}

// MarkCompleted stores the serialized response and stamps completion. The row
// is never updated again; all later reservations replay this response.
func (l *Ledger) MarkCompleted(ctx context.Context, tx pgx.Tx, key string, response []byte) error {
	query := `
		UPDATE idempotency_records
		SET response     = $2,
		    completed_at = NOW()
		WHERE key = $1
		  AND completed_at IS NULL
		RETURNING key
	`

	var returned string
	err := tx.QueryRow(ctx, query, key, response).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.Conflict("idempotency record already completed or missing")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete idempotency record")
	}
	return nil
}

// HashRequest produces the request hash stored with a reservation:
// sha256 over action key, actor and raw body.
func HashRequest(actionKey, actorID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(actionKey))
	h.Write([]byte{0})
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
