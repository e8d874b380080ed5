package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAudit() AuditEntry {
	return AuditEntry{
		ID:                 "a1",
		CycleID:            "c1",
		MarketID:           "0xabc",
		CreatedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ModelProbability:   0.75,
		ImpliedProbability: 0.60,
		RawEdge:            0.15,
		NetEdge:            0.13,
		Direction:          DirectionBuyYes,
		Confidence:         ConfidenceHigh,
		Decision:           DecisionTrade,
		StakeUSD:           100,
		CappedBy:           CapMaxStake,
		EvidenceScore:      0.8,
		EvidenceSources:    4,
		EvidenceSummary:    "polls lean yes",
		OrderStatus:        OrderSimulated,
	}.Seal()
}

func TestAuditEntry_SealAndVerify(t *testing.T) {
	a := sampleAudit()
	require.Len(t, a.Checksum, 64)
	assert.True(t, a.Verify())
}

func TestAuditEntry_Deterministic(t *testing.T) {
	assert.Equal(t, sampleAudit().Checksum, sampleAudit().Checksum)
}

func TestAuditEntry_TamperDetected(t *testing.T) {
	a := sampleAudit()
	a.StakeUSD = 1000
	assert.False(t, a.Verify())

	b := sampleAudit()
	b.Violations = []string{ViolationMinEdge}
	assert.False(t, b.Verify())
}

func TestAuditEntry_UnsealedFailsVerify(t *testing.T) {
	assert.False(t, AuditEntry{ID: "x"}.Verify())
}

func TestParseConfidence(t *testing.T) {
	c, err := ParseConfidence("medium")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, c)
	assert.Less(t, ConfidenceLow.Rank(), ConfidenceMedium.Rank())
	assert.Less(t, ConfidenceMedium.Rank(), ConfidenceHigh.Rank())

	_, err = ParseConfidence("sure")
	assert.Error(t, err)
}
