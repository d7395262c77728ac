package ir

import (
	"encoding/binary"
	"fmt"
)

// DomainReconcile separates per-domain digests inside a cycle digest.
const DomainReconcile = "knhk/domain/v1"

// TickRecord is everything one fiber step produced for one domain at one
// tick: the delta it consumed, the actions and the receipt. Replay
// recomputes Actions and Receipt from Delta.
type TickRecord struct {
	Domain  int         `json:"domain"`
	Tick    uint8       `json:"tick"`
	CycleID uint64      `json:"cycle_id"`
	Delta   Batch       `json:"delta"`
	Actions ActionBatch `json:"actions"`
	Receipt Receipt     `json:"receipt"`
}

// CycleRecord is one committed epoch.
//
// Receipts holds the merged receipt of each domain, indexed by domain; a
// domain with no work in the epoch has the zero Receipt. Digest binds each
// domain's receipt digest to its domain index.
type CycleRecord struct {
	RunID    string       `json:"run_id"`
	Epoch    uint64       `json:"epoch"`
	CycleID  uint64       `json:"cycle_id"`
	Receipts []Receipt    `json:"receipts"`
	Ticks    []TickRecord `json:"ticks"`
	Digest   Digest       `json:"digest"`
}

// DomainDigest binds a domain's receipt digest to its index.
func DomainDigest(domain int, d Digest) Digest {
	var rec [40]byte
	binary.BigEndian.PutUint64(rec[:8], uint64(domain))
	copy(rec[8:], d[:])
	return blakeWithDomain(DomainReconcile, rec[:])
}

// NewCycleRecord folds tick records into per-domain receipts and seals the
// record. domains is the number of reconciliation domains.
func NewCycleRecord(runID string, epoch uint64, domains int, ticks []TickRecord) (*CycleRecord, error) {
	rec := &CycleRecord{
		RunID:    runID,
		Epoch:    epoch,
		Receipts: make([]Receipt, domains),
		Ticks:    ticks,
	}
	for i, t := range ticks {
		if t.Domain < 0 || t.Domain >= domains {
			return nil, fmt.Errorf("tick record %d: domain %d out of range", i, t.Domain)
		}
		merged, err := Merge(rec.Receipts[t.Domain], t.Receipt)
		if err != nil {
			return nil, fmt.Errorf("domain %d tick %d: %w", t.Domain, t.Tick, err)
		}
		rec.Receipts[t.Domain] = merged
	}
	rec.seal()
	return rec, nil
}

func (c *CycleRecord) seal() {
	c.CycleID = 0
	c.Digest = Digest{}
	for d := range c.Receipts {
		r := &c.Receipts[d]
		if r.IsEmpty() {
			continue
		}
		c.CycleID = max(c.CycleID, r.CycleID)
		c.Digest = c.Digest.Xor(DomainDigest(d, r.Digest))
	}
}

// Verify recomputes the per-domain receipts and digest from the ticks and
// reports the first disagreement with the stored values.
func (c *CycleRecord) Verify() error {
	check, err := NewCycleRecord(c.RunID, c.Epoch, len(c.Receipts), c.Ticks)
	if err != nil {
		return err
	}
	for d := range c.Receipts {
		if check.Receipts[d].Digest != c.Receipts[d].Digest || check.Receipts[d].TickCost != c.Receipts[d].TickCost {
			return fmt.Errorf("epoch %d domain %d: receipt does not match its ticks", c.Epoch, d)
		}
	}
	if check.Digest != c.Digest {
		return fmt.Errorf("epoch %d: cycle digest %s does not match recomputed %s", c.Epoch, c.Digest.Short(), check.Digest.Short())
	}
	return nil
}
