package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// AuditEntry carries enough context to re-derive a trade decision. The
// checksum is computed once at creation; Verify detects later tampering.
type AuditEntry struct {
	ID                 string
	CycleID            string
	MarketID           string
	Question           string
	CreatedAt          time.Time
	ModelProbability   float64
	ImpliedProbability float64
	RawEdge            float64
	NetEdge            float64
	Direction          Direction
	Confidence         Confidence
	Decision           Decision
	Violations         []string
	StakeUSD           float64
	CappedBy           CapReason
	EvidenceScore      float64
	EvidenceSources    int
	EvidenceSummary    string
	OrderStatus        OrderStatus
	Checksum           string
}

// Seal computes and stores the checksum. It returns the sealed copy.
func (a AuditEntry) Seal() AuditEntry {
	a.CreatedAt = a.CreatedAt.UTC()
	a.Checksum = a.ComputeChecksum()
	return a
}

// ComputeChecksum hashes the canonical serialization with SHA256.
// Format: id|cycle|market|created|model|implied|raw|net|dir|conf|decision|violations|stake|capped|evq|evn|summary|status
func (a AuditEntry) ComputeChecksum() string {
	data := fmt.Sprintf("%s|%s|%s|%s|%.6f|%.6f|%.6f|%.6f|%s|%s|%s|%s|%.4f|%s|%.4f|%d|%s|%s",
		a.ID,
		a.CycleID,
		a.MarketID,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.ModelProbability,
		a.ImpliedProbability,
		a.RawEdge,
		a.NetEdge,
		a.Direction,
		a.Confidence,
		a.Decision,
		strings.Join(a.Violations, ","),
		a.StakeUSD,
		a.CappedBy,
		a.EvidenceScore,
		a.EvidenceSources,
		a.EvidenceSummary,
		a.OrderStatus,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether the stored checksum still matches the content.
func (a AuditEntry) Verify() bool {
	return a.Checksum != "" && a.Checksum == a.ComputeChecksum()
}
