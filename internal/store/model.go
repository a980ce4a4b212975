package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrInvalid      = errors.New("invalid")
	ErrArchived     = errors.New("memory archived")
	// ErrIndexDesync means an index returned an id the metadata store does not have.
	// It requires Reconcile; it is never silently skipped.
	ErrIndexDesync = errors.New("index desynchronized")
)

// Gate is the semantic kind of a stored fact.
type Gate string

const (
	GateBehavioral Gate = "behavioral"
	GateRelational Gate = "relational"
	GateEpistemic  Gate = "epistemic"
	GatePromissory Gate = "promissory"
	GateCorrection Gate = "correction"
)

// Gates lists every gate value.
var Gates = []Gate{GateBehavioral, GateRelational, GateEpistemic, GatePromissory, GateCorrection}

func (g Gate) Valid() bool {
	for _, v := range Gates {
		if g == v {
			return true
		}
	}
	return false
}

// Sensitivity is the privacy tier of a memory.
type Sensitivity string

const (
	SensitivitySafe      Sensitivity = "safe"
	SensitivitySensitive Sensitivity = "sensitive"
	SensitivityCritical  Sensitivity = "critical"
)

func (s Sensitivity) Valid() bool {
	return s == SensitivitySafe || s == SensitivitySensitive || s == SensitivityCritical
}

// Rank orders tiers from least to most restrictive.
func (s Sensitivity) Rank() int {
	switch s {
	case SensitivitySafe:
		return 0
	case SensitivitySensitive:
		return 1
	case SensitivityCritical:
		return 2
	}
	return -1
}

// Visibility controls who may read a memory.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityTeam
}

// Scope is the authenticated caller: an owner and an optional team.
type Scope struct {
	OwnerID string
	TeamID  string
}

// Memory is a single stored fact.
type Memory struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	Gate         Gate        `json:"gate"`
	Person       string      `json:"person,omitempty"`
	Project      string      `json:"project,omitempty"`
	Sensitivity  Sensitivity `json:"sensitivity"`
	Visibility   Visibility  `json:"visibility"`
	Pinned       bool        `json:"pinned"`
	Confidence   float64     `json:"confidence"`
	OwnerID      string      `json:"owner_id"`
	TeamID       string      `json:"team_id,omitempty"`
	CreatedBy    string      `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	DecayScore   float64     `json:"decay_score"`
	ArchivedAt   *time.Time  `json:"archived_at,omitempty"`
}

// VisibleTo reports whether the memory may be read by scope.
func (m *Memory) VisibleTo(s Scope) bool {
	switch m.Visibility {
	case VisibilityPrivate:
		return m.OwnerID == s.OwnerID
	case VisibilityTeam:
		return s.TeamID != "" && m.TeamID == s.TeamID
	}
	return false
}

// Validate checks the closed enums and the team invariant.
func (m *Memory) Validate() error {
	switch {
	case m.Content == "":
		return fmt.Errorf("%w: empty content", ErrInvalid)
	case m.OwnerID == "":
		return fmt.Errorf("%w: missing owner", ErrInvalid)
	case !m.Gate.Valid():
		return fmt.Errorf("%w: gate %q", ErrInvalid, m.Gate)
	case !m.Sensitivity.Valid():
		return fmt.Errorf("%w: sensitivity %q", ErrInvalid, m.Sensitivity)
	case !m.Visibility.Valid():
		return fmt.Errorf("%w: visibility %q", ErrInvalid, m.Visibility)
	case m.Visibility == VisibilityTeam && m.TeamID == "":
		return fmt.Errorf("%w: team visibility requires a team id", ErrInvalid)
	case m.Confidence < 0 || m.Confidence > 1:
		return fmt.Errorf("%w: confidence %.2f", ErrInvalid, m.Confidence)
	}
	return nil
}

// EdgeKind is the relation between two memories.
type EdgeKind string

const (
	EdgeContradicts EdgeKind = "CONTRADICTS"
	EdgeFollows     EdgeKind = "FOLLOWS"
)

// Edge links two memories. CONTRADICTS is traversed both ways, FOLLOWS only source to target.
type Edge struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Kind       EdgeKind  `json:"kind"`
	Confidence float64   `json:"confidence"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalKind distinguishes raw entries from digests.
type JournalKind string

const (
	JournalEntryKind   JournalKind = "entry"
	JournalCheckpoint  JournalKind = "checkpoint"
	JournalObservation JournalKind = "observation"
	JournalDigest      JournalKind = "digest"
)

// JournalEntry is a session event or a weekly digest.
type JournalEntry struct {
	ID               string      `json:"id"`
	OwnerID          string      `json:"owner_id"`
	SessionID        string      `json:"session_id,omitempty"`
	Kind             JournalKind `json:"kind"`
	Content          string      `json:"content"`
	CreatedAt        time.Time   `json:"created_at"`
	WeekKey          string      `json:"week_key,omitempty"`
	ConsolidatedInto string      `json:"consolidated_into,omitempty"`
}

// IdentityCard is a synthesized summary for one (owner, person, project) scope.
type IdentityCard struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Person      string    `json:"person,omitempty"`
	Project     string    `json:"project,omitempty"`
	Summary     string    `json:"summary"`
	SourceIDs   []string  `json:"source_ids"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RuleScope says whether a rule belongs to a user or a team.
type RuleScope string

const (
	RuleScopeUser RuleScope = "user"
	RuleScopeTeam RuleScope = "team"
)

// Rule is a standing instruction injected into sessions.
type Rule struct {
	ID        string    `json:"id"`
	Scope     RuleScope `json:"scope"`
	OwnerID   string    `json:"owner_id"` // user id, or team id for team rules
	Text      string    `json:"text"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Onboarding tracks first-run progress for an owner.
type Onboarding struct {
	OwnerID   string    `json:"owner_id"`
	Step      int       `json:"step"`
	Person    string    `json:"person,omitempty"`
	Project   string    `json:"project,omitempty"`
	Style     string    `json:"style,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a team member's privilege level.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// CanManage reports whether the role may administer the team.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// RoleRankSQL ranks the role stored in col: owner 3, admin 2, member 1.
func RoleRankSQL(col string) string {
	return "CASE " + col + " WHEN 'owner' THEN 3 WHEN 'admin' THEN 2 ELSE 1 END"
}

// Team groups users who share team-visible memories.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is one team membership.
type Member struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ClaimStatus is the saga state of an ownership migration.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimPartial  ClaimStatus = "partial"
	ClaimComplete ClaimStatus = "complete"
)

// ClaimRecord tracks a migration of every entity class from one owner to another.
type ClaimRecord struct {
	ID        string                `json:"id"`
	From      string                `json:"from"`
	To        string                `json:"to"`
	Manifest  []EntityClass         `json:"manifest"`
	Completed []EntityClass         `json:"completed"`
	Moved     map[EntityClass]int64 `json:"moved"`
	Status    ClaimStatus           `json:"status"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Remaining returns the manifest classes not yet completed, in manifest order.
func (c *ClaimRecord) Remaining() []EntityClass {
	done := make(map[EntityClass]bool, len(c.Completed))
	for _, cl := range c.Completed {
		done[cl] = true
	}
	var out []EntityClass
	for _, cl := range c.Manifest {
		if !done[cl] {
			out = append(out, cl)
		}
	}
	return out
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
