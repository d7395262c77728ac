package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/roach88/knhk/internal/ir"
)

var (
	// ErrNotFound is returned when a requested cycle does not exist.
	ErrNotFound = errors.New("cycle not found")

	// ErrConflict is returned when a (run, epoch) is appended twice with
	// different digests.
	ErrConflict = errors.New("cycle already committed with a different digest")

	// ErrOutOfOrder is returned when an epoch is not greater than the last
	// one committed for its run.
	ErrOutOfOrder = errors.New("epoch out of order")
)

// Append writes a committed cycle record to the log. It implements the
// engine's provenance log.
//
// Appending the same (run, epoch, digest) again is a no-op.
func (s *Store) Append(ctx context.Context, rec *ir.CycleRecord) error {
	payload, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("append epoch %d: marshal: %w", rec.Epoch, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append epoch %d: begin: %w", rec.Epoch, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT digest FROM cycles WHERE run_id = ? AND epoch = ?
	`, rec.RunID, rec.Epoch).Scan(&existing)
	switch {
	case err == nil:
		if existing == rec.Digest.String() {
			return nil
		}
		return fmt.Errorf("append run %s epoch %d: %w", rec.RunID, rec.Epoch, ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("append epoch %d: %w", rec.Epoch, err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(epoch) FROM cycles WHERE run_id = ?
	`, rec.RunID).Scan(&last); err != nil {
		return fmt.Errorf("append epoch %d: %w", rec.Epoch, err)
	}
	if last.Valid && uint64(last.Int64) >= rec.Epoch {
		return fmt.Errorf("append run %s epoch %d after %d: %w", rec.RunID, rec.Epoch, last.Int64, ErrOutOfOrder)
	}

	var prevHash string
	err = tx.QueryRowContext(ctx, `
		SELECT record_hash FROM cycles ORDER BY seq DESC LIMIT 1
	`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append epoch %d: %w", rec.Epoch, err)
	}

	hash := ir.RecordHash(prevHash, rec.Epoch, rec.Digest, payload)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cycles (run_id, epoch, cycle_id, digest, payload, prev_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		int64(rec.Epoch),
		int64(rec.CycleID),
		rec.Digest.String(),
		string(payload),
		prevHash,
		hash,
	)
	if err != nil {
		return fmt.Errorf("append epoch %d: insert cycle: %w", rec.Epoch, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append epoch %d: %w", rec.Epoch, err)
	}

	for i := range rec.Ticks {
		if err := insertTick(ctx, tx, seq, &rec.Ticks[i]); err != nil {
			return fmt.Errorf("append epoch %d: %w", rec.Epoch, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append epoch %d: commit: %w", rec.Epoch, err)
	}
	return nil
}

func insertTick(ctx context.Context, tx *sql.Tx, seq int64, t *ir.TickRecord) error {
	delta, err := sonnet.Marshal(t.Delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	actions, err := sonnet.Marshal(t.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	receipt, err := sonnet.Marshal(t.Receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycle_ticks (cycle_seq, domain, tick, cycle_id, delta, actions, receipt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, seq, t.Domain, t.Tick, int64(t.CycleID), string(delta), string(actions), string(receipt))
	if err != nil {
		return fmt.Errorf("insert tick domain %d tick %d: %w", t.Domain, t.Tick, err)
	}
	return nil
}

// ReadCycles returns every committed cycle in append order.
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadCycles(ctx context.Context) ([]*ir.CycleRecord, error) {
	return s.readCycles(ctx, `SELECT payload FROM cycles ORDER BY seq ASC`)
}

// ReadRun returns the committed cycles of one run in epoch order.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]*ir.CycleRecord, error) {
	return s.readCycles(ctx, `SELECT payload FROM cycles WHERE run_id = ? ORDER BY seq ASC`, runID)
}

func (s *Store) readCycles(ctx context.Context, query string, args ...any) ([]*ir.CycleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	records := []*ir.CycleRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		rec, err := decodeCycle(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return records, nil
}

// ReadCycle returns one committed cycle, or ErrNotFound.
func (s *Store) ReadCycle(ctx context.Context, runID string, epoch uint64) (*ir.CycleRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM cycles WHERE run_id = ? AND epoch = ?
	`, runID, int64(epoch)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s epoch %d: %w", runID, epoch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read cycle: %w", err)
	}
	return decodeCycle(payload)
}

// ReadTicks returns every committed tick record of one domain, in append
// then tick order.
func (s *Store) ReadTicks(ctx context.Context, domain int) ([]ir.TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, tick, cycle_id, delta, actions, receipt
		FROM cycle_ticks
		WHERE domain = ?
		ORDER BY cycle_seq ASC, tick ASC
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	ticks := []ir.TickRecord{}
	for rows.Next() {
		var (
			t                        ir.TickRecord
			cycleID                  int64
			delta, actions, receipts string
		)
		if err := rows.Scan(&t.Domain, &t.Tick, &cycleID, &delta, &actions, &receipts); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.CycleID = uint64(cycleID)
		if err := sonnet.Unmarshal([]byte(delta), &t.Delta); err != nil {
			return nil, fmt.Errorf("unmarshal delta: %w", err)
		}
		if err := sonnet.Unmarshal([]byte(actions), &t.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		if err := sonnet.Unmarshal([]byte(receipts), &t.Receipt); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return ticks, nil
}

func decodeCycle(payload string) (*ir.CycleRecord, error) {
	var rec ir.CycleRecord
	if err := sonnet.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cycle: %w", err)
	}
	return &rec, nil
}
