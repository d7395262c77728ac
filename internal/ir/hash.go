package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainLane  = "knhk/lane/v1"
	DomainTick  = "knhk/tick/v1"
	DomainTrace = "knhk/trace/v1"
	DomainCycle = "knhk/cycle/v1"
)

// Digest is a 32-byte BLAKE2b-256 fingerprint. Sequence digests are XOR
// folds of lane-bound digests, so the zero Digest is the digest of nothing.
type Digest [32]byte

// Xor returns d XOR o.
func (d Digest) Xor(o Digest) Digest {
	for i := range d {
		d[i] ^= o[i]
	}
	return d
}

// IsZero reports whether d is the empty-sequence digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters, for logs and text output.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:4])
}

// MarshalText encodes the digest as hex.
func (d Digest) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(d)))
	hex.Encode(out, d[:])
	return out, nil
}

// UnmarshalText decodes a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(d) {
		return fmt.Errorf("digest: want %d hex chars, got %d", 2*len(d), len(text))
	}
	_, err := hex.Decode(d[:], text)
	return err
}

// ParseDigest decodes a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	err := d.UnmarshalText([]byte(s))
	return d, err
}

// blakeWithDomain computes BLAKE2b-256 with domain separation.
// Format: BLAKE2b(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func blakeWithDomain(domain string, data []byte) Digest {
	buf := make([]byte, 0, len(domain)+1+len(data))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	return blake2b.Sum256(buf)
}

// LaneDigest fingerprints one row at one lane: BLAKE2b over
// (lane, s, p, o) in big-endian under DomainLane.
func LaneDigest(lane uint8, t Triple) Digest {
	var rec [25]byte
	rec[0] = lane
	binary.BigEndian.PutUint64(rec[1:], t.S)
	binary.BigEndian.PutUint64(rec[9:], t.P)
	binary.BigEndian.PutUint64(rec[17:], t.O)
	return blakeWithDomain(DomainLane, rec[:])
}

// DigestRows returns the digest of the batch rows whose lanes are set in
// laneMask. Lanes outside the batch window are ignored.
func DigestRows(b *Batch, laneMask uint8) Digest {
	var d Digest
	for i := 0; i < int(b.Len); i++ {
		lane := b.Base + uint8(i)
		if laneMask&(1<<lane) == 0 {
			continue
		}
		d = d.Xor(LaneDigest(lane, b.Row(i)))
	}
	return d
}

// tickDigest binds a per-tick digest to its tick so multi-tick receipts
// distinguish "row r at tick 1" from "row r at tick 2".
func tickDigest(tick uint8, d Digest) Digest {
	var rec [33]byte
	rec[0] = tick
	copy(rec[1:], d[:])
	return blakeWithDomain(DomainTick, rec[:])
}

// TraceID is a 16-byte trace identifier derived from an epoch, compatible
// with OpenTelemetry trace IDs.
type TraceID [16]byte

// TraceIDForEpoch derives the trace ID shared by every tick of an epoch.
func TraceIDForEpoch(epoch uint64) TraceID {
	var rec [8]byte
	binary.BigEndian.PutUint64(rec[:], epoch)
	sum := blakeWithDomain(DomainTrace, rec[:])
	var id TraceID
	copy(id[:], sum[:16])
	return id
}

// IsZero reports whether no trace ID is set.
func (t TraceID) IsZero() bool {
	return t == TraceID{}
}

// String returns the lowercase hex encoding.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// OTel converts to an OpenTelemetry trace ID.
func (t TraceID) OTel() trace.TraceID {
	return trace.TraceID(t)
}

// MarshalText encodes the trace ID as hex.
func (t TraceID) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(t)))
	hex.Encode(out, t[:])
	return out, nil
}

// UnmarshalText decodes a hex trace ID.
func (t *TraceID) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(t) {
		return fmt.Errorf("trace id: want %d hex chars, got %d", 2*len(t), len(text))
	}
	_, err := hex.Decode(t[:], text)
	return err
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
//
// Example: hashWithDomain("knhk/cycle/v1", payload)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordHash computes the chained hash of a committed cycle record.
// Each record commits to its predecessor, so rewriting any record breaks
// every hash after it. prevHash is "" for the first record.
func RecordHash(prevHash string, epoch uint64, digest Digest, payload []byte) string {
	buf := make([]byte, 0, len(prevHash)+1+8+len(digest)+len(payload))
	buf = append(buf, prevHash...)
	buf = append(buf, 0x00)
	buf = binary.BigEndian.AppendUint64(buf, epoch)
	buf = append(buf, digest[:]...)
	buf = append(buf, payload...)
	return hashWithDomain(DomainCycle, buf)
}
