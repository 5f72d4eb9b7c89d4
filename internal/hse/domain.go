package hse

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

const (
	// DocTypePermit identifies permits to work.
	DocTypePermit workflow.DocType = "WORK_PERMIT"
	// DocTypeInspection identifies site inspections.
	DocTypeInspection workflow.DocType = "INSPECTION"

	// RoleOfficer approves permits and closes inspections.
	RoleOfficer workflow.Role = "HSE_OFFICER"
	// RoleAreaAuthority activates and suspends permits on site.
	RoleAreaAuthority workflow.Role = "AREA_AUTHORITY"
)

// PermitType classifies the work covered by a permit.
type PermitType string

const (
	PermitGeneral       PermitType = "GENERAL"
	PermitHotWork       PermitType = "HOT_WORK"
	PermitConfinedSpace PermitType = "CONFINED_SPACE"
	PermitWorkAtHeight  PermitType = "WORK_AT_HEIGHT"
)

// Valid reports whether t is a known permit type.
func (t PermitType) Valid() bool {
	switch t {
	case PermitGeneral, PermitHotWork, PermitConfinedSpace, PermitWorkAtHeight:
		return true
	}
	return false
}

// RequiresGasTest reports whether activation needs a passing gas test.
func (t PermitType) RequiresGasTest() bool {
	return t == PermitHotWork || t == PermitConfinedSpace
}

// PermitStatus is the lifecycle status of a permit.
type PermitStatus string

const (
	PermitDraft     PermitStatus = "DRAFT"
	PermitPending   PermitStatus = "PENDING"
	PermitApproved  PermitStatus = "APPROVED"
	PermitRejected  PermitStatus = "REJECTED"
	PermitActive    PermitStatus = "ACTIVE"
	PermitSuspended PermitStatus = "SUSPENDED"
	PermitClosed    PermitStatus = "CLOSED"
	PermitExpired   PermitStatus = "EXPIRED"
	PermitCancelled PermitStatus = "CANCELLED"
)

// WorkPermit authorises hazardous work at a location for a time window.
type WorkPermit struct {
	ID          int64        `json:"id"`
	Number      string       `json:"number"`
	Type        PermitType   `json:"type"`
	Location    string       `json:"location"`
	Description string       `json:"description"`
	Status      PermitStatus `json:"status"`
	ValidFrom   time.Time    `json:"valid_from"`
	ValidTo     time.Time    `json:"valid_to"`
	RequestedBy int64        `json:"requested_by"`
	GasTests    []GasTest    `json:"gas_tests,omitempty"`
}

// Within reports whether now falls inside the validity window.
func (p WorkPermit) Within(now time.Time) bool {
	return !now.Before(p.ValidFrom) && now.Before(p.ValidTo)
}

// LatestGasTest returns the most recent gas test, if any.
func (p WorkPermit) LatestGasTest() (GasTest, bool) {
	var latest GasTest
	found := false
	for _, g := range p.GasTests {
		if !found || g.TestedAt.After(latest.TestedAt) {
			latest, found = g, true
		}
	}
	return latest, found
}

// Atmospheric limits for a passing gas test.
var (
	MinOxygenPct = decimal.RequireFromString("19.5")
	MaxOxygenPct = decimal.RequireFromString("23.5")
	MaxLELPct    = decimal.NewFromInt(10)
	MaxH2SPPM    = decimal.NewFromInt(10)
	MaxCOPPM     = decimal.NewFromInt(25)
)

// GasTest is an atmospheric reading taken before or during permitted work.
type GasTest struct {
	ID        int64           `json:"id"`
	PermitID  int64           `json:"permit_id"`
	OxygenPct decimal.Decimal `json:"oxygen_pct"`
	LELPct    decimal.Decimal `json:"lel_pct"`
	H2SPPM    decimal.Decimal `json:"h2s_ppm"`
	COPPM     decimal.Decimal `json:"co_ppm"`
	Passed    bool            `json:"passed"`
	TestedBy  int64           `json:"tested_by"`
	TestedAt  time.Time       `json:"tested_at"`
}

// Evaluate reports whether the readings are inside the atmospheric limits.
func (g GasTest) Evaluate() bool {
	return !g.OxygenPct.LessThan(MinOxygenPct) &&
		!g.OxygenPct.GreaterThan(MaxOxygenPct) &&
		g.LELPct.LessThan(MaxLELPct) &&
		g.H2SPPM.LessThan(MaxH2SPPM) &&
		g.COPPM.LessThan(MaxCOPPM)
}

// InspectionStatus is the lifecycle status of an inspection.
type InspectionStatus string

const (
	InspectionScheduled  InspectionStatus = "SCHEDULED"
	InspectionInProgress InspectionStatus = "IN_PROGRESS"
	InspectionCompleted  InspectionStatus = "COMPLETED"
	InspectionClosed     InspectionStatus = "CLOSED"
	InspectionCancelled  InspectionStatus = "CANCELLED"
)

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Inspection is a scheduled site inspection.
type Inspection struct {
	ID           int64            `json:"id"`
	Number       string           `json:"number"`
	Site         string           `json:"site"`
	InspectorID  int64            `json:"inspector_id"`
	Status       InspectionStatus `json:"status"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Findings     []Finding        `json:"findings,omitempty"`
}

// OpenFindings counts unresolved findings.
func (i Inspection) OpenFindings() int {
	n := 0
	for _, f := range i.Findings {
		if !f.Resolved() {
			n++
		}
	}
	return n
}

// Finding is an issue raised during an inspection.
type Finding struct {
	ID           int64      `json:"id"`
	InspectionID int64      `json:"inspection_id"`
	Severity     Severity   `json:"severity"`
	Description  string     `json:"description"`
	RaisedBy     int64      `json:"raised_by"`
	RaisedAt     time.Time  `json:"raised_at"`
	ResolvedBy   *int64     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Resolution   string     `json:"resolution,omitempty"`
}

// Resolved reports whether the finding has been closed out.
func (f Finding) Resolved() bool { return f.ResolvedAt != nil }

var (
	// ErrPermitNotFound indicates a missing permit.
	ErrPermitNotFound = fmt.Errorf("work permit %w", shared.ErrNotFound)
	// ErrInspectionNotFound indicates a missing inspection.
	ErrInspectionNotFound = fmt.Errorf("inspection %w", shared.ErrNotFound)
	// ErrFindingNotFound indicates a missing finding.
	ErrFindingNotFound = fmt.Errorf("finding %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("hse: %w", shared.ErrValidation)
	// ErrOutsideWindow blocks activation outside the validity window.
	ErrOutsideWindow = fmt.Errorf("permit outside validity window: %w", shared.ErrRuleViolation)
	// ErrStillValid blocks expiring a permit before its window ends.
	ErrStillValid = fmt.Errorf("permit still within validity window: %w", shared.ErrRuleViolation)
	// ErrGasTestRequired blocks hot work without a passing gas test.
	ErrGasTestRequired = fmt.Errorf("passing gas test required: %w", shared.ErrRuleViolation)
	// ErrOpenFindings blocks closing an inspection with unresolved findings.
	ErrOpenFindings = fmt.Errorf("inspection has unresolved findings: %w", shared.ErrRuleViolation)
	// ErrInspectionNotActive rejects findings outside IN_PROGRESS.
	ErrInspectionNotActive = fmt.Errorf("inspection not in progress: %w", workflow.ErrInvalidState)
	// ErrPermitNotOpen rejects gas tests on permits that are not approved or running.
	ErrPermitNotOpen = fmt.Errorf("permit not open for gas tests: %w", workflow.ErrInvalidState)
	// ErrAlreadyResolved rejects resolving a finding twice.
	ErrAlreadyResolved = fmt.Errorf("finding already resolved: %w", workflow.ErrInvalidState)
)
