package store

import (
	"context"
	"fmt"

	"github.com/roach88/knhk/internal/ir"
)

// ChainError reports the first row where the provenance chain breaks.
type ChainError struct {
	Seq    int64  `json:"seq"`
	RunID  string `json:"run_id"`
	Epoch  uint64 `json:"epoch"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("provenance chain broken at seq %d (run=%s, epoch=%d): %s", e.Seq, e.RunID, e.Epoch, e.Reason)
}

// VerifyChain walks the log in append order and checks that every row links
// to its predecessor, that its hash covers its payload, and that the stored
// record is internally consistent. It returns the number of rows checked,
// and a *ChainError for the first broken row.
func (s *Store) VerifyChain(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, epoch, digest, payload, prev_hash, record_hash
		FROM cycles
		ORDER BY seq ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var (
		n    int
		prev string
	)
	for rows.Next() {
		var (
			seq, epoch             int64
			runID, digest, payload string
			prevHash, recordHash   string
		)
		if err := rows.Scan(&seq, &runID, &epoch, &digest, &payload, &prevHash, &recordHash); err != nil {
			return n, fmt.Errorf("scan cycle: %w", err)
		}
		broken := func(reason string) error {
			return &ChainError{Seq: seq, RunID: runID, Epoch: uint64(epoch), Reason: reason}
		}

		if prevHash != prev {
			return n, broken("prev_hash does not match preceding record")
		}
		d, err := ir.ParseDigest(digest)
		if err != nil {
			return n, broken(err.Error())
		}
		if got := ir.RecordHash(prevHash, uint64(epoch), d, []byte(payload)); got != recordHash {
			return n, broken("record_hash does not cover payload")
		}

		rec, err := decodeCycle(payload)
		if err != nil {
			return n, broken(err.Error())
		}
		if rec.Digest != d || rec.Epoch != uint64(epoch) || rec.RunID != runID {
			return n, broken("payload disagrees with indexed columns")
		}
		if err := rec.Verify(); err != nil {
			return n, broken(err.Error())
		}

		prev = recordHash
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate cycles: %w", err)
	}
	return n, nil
}

// RunSummary describes one engine run in the log.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Cycles     int    `json:"cycles"`
	FirstEpoch uint64 `json:"first_epoch"`
	LastEpoch  uint64 `json:"last_epoch"`
}

// Runs lists the runs in the log in order of their first commit.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, COUNT(*), MIN(epoch), MAX(epoch)
		FROM cycles
		GROUP BY run_id
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			r           RunSummary
			first, last int64
		)
		if err := rows.Scan(&r.RunID, &r.Cycles, &first, &last); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FirstEpoch, r.LastEpoch = uint64(first), uint64(last)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
