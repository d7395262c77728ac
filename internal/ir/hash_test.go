package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneDigest_Deterministic(t *testing.T) {
	row := Triple{S: 1, P: 2, O: 3}
	assert.Equal(t, LaneDigest(0, row), LaneDigest(0, row))
	assert.False(t, LaneDigest(0, row).IsZero())
}

func TestLaneDigest_BindsLane(t *testing.T) {
	row := Triple{S: 1, P: 2, O: 3}
	assert.NotEqual(t, LaneDigest(0, row), LaneDigest(1, row))
}

func TestDigestRows_OrderSensitive(t *testing.T) {
	a := Triple{S: 1, P: 2, O: 3}
	b := Triple{S: 4, P: 5, O: 6}

	ab := MustBatch(a, b)
	ba := MustBatch(b, a)
	assert.NotEqual(t, DigestRows(&ab, 0xFF), DigestRows(&ba, 0xFF))
}

func TestDigestRows_MaskSelectsLanes(t *testing.T) {
	b := MustBatch(Triple{1, 2, 3}, Triple{4, 5, 6})

	assert.True(t, DigestRows(&b, 0).IsZero(), "empty selection is the zero digest")
	assert.Equal(t, LaneDigest(1, Triple{4, 5, 6}), DigestRows(&b, 0b10))
}

func TestDomainSeparation(t *testing.T) {
	data := []byte{1, 2, 3}
	assert.NotEqual(t, blakeWithDomain(DomainLane, data), blakeWithDomain(DomainTick, data))
	assert.NotEqual(t, hashWithDomain(DomainCycle, data), hashWithDomain(DomainLane, data))
	assert.Len(t, hashWithDomain(DomainCycle, data), 64, "SHA-256 hex is 64 characters")
}

func TestDigest_TextEncoding(t *testing.T) {
	d := LaneDigest(2, Triple{7, 8, 9})

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"`+d.String()+`"`, string(raw))

	var back Digest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)

	_, err = ParseDigest("abc")
	assert.Error(t, err)
}

func TestTraceIDForEpoch(t *testing.T) {
	assert.Equal(t, TraceIDForEpoch(3), TraceIDForEpoch(3))
	assert.NotEqual(t, TraceIDForEpoch(3), TraceIDForEpoch(4))
	assert.True(t, TraceIDForEpoch(0).OTel().IsValid())
}

func TestRecordHash_Chains(t *testing.T) {
	d := LaneDigest(0, Triple{1, 2, 3})

	first := RecordHash("", 0, d, []byte("payload"))
	second := RecordHash(first, 1, d, []byte("payload"))
	forked := RecordHash("other", 1, d, []byte("payload"))

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, forked, "record hash must commit to its predecessor")
	assert.Equal(t, first, RecordHash("", 0, d, []byte("payload")))
}
