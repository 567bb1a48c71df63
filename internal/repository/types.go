package repository

import "time"

// ── Entity types ──────────────────────────────────────────────────────────────

// EntityTypeBudget / EntityTypeContract name the two workflow-managed entities.
const (
	EntityTypeBudget   = "budget"
	EntityTypeContract = "contract"
)

// Budget statuses.
const (
	BudgetStatusDraft             = "DRAFT"
	BudgetStatusSubmitted         = "SUBMITTED"
	BudgetStatusRevisionRequested = "REVISION_REQUESTED"
	BudgetStatusApproved          = "APPROVED"
	BudgetStatusRejected          = "REJECTED"
	BudgetStatusLocked            = "LOCKED"
	BudgetStatusClosed            = "CLOSED"
)

// Contract statuses.
const (
	ContractStatusDraft                = "DRAFT"
	ContractStatusGenerated            = "GENERATED"
	ContractStatusSubmittedForApproval = "SUBMITTED_FOR_APPROVAL"
	ContractStatusApproved             = "APPROVED"
	ContractStatusSentForSign          = "SENT_FOR_SIGN"
	ContractStatusSigned               = "SIGNED"
	ContractStatusActive               = "ACTIVE"
	ContractStatusCancelled            = "CANCELLED"
)

// Budget is a partner budget moving through the grant lifecycle. Status is
// mutated exclusively through the workflow engine; rows are never deleted.
type Budget struct {
	ID              string
	ProjectID       string
	PartnerID       string
	TenantID        string
	Title           string
	Status          string
	Rules           map[string]any // policy parameter bag (tranche_count, ...)
	Tranches        []Tranche      // derived disbursement schedule, set on approval
	TotalAmount     int64          // cents
	AllocatedAmount int64          // cents
	Currency        string
	Version         int64
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedBy       *string
	UpdatedAt       time.Time
}

// Tranche is one scheduled partial disbursement derived from the budget total.
type Tranche struct {
	Sequence int    `json:"sequence"`
	Amount   int64  `json:"amount"`
	DueDate  string `json:"due_date,omitempty"`
}

// Contract is a partner contract provisioned from an approved budget.
type Contract struct {
	ID               string
	BudgetID         string
	ProjectID        string
	PartnerID        string
	TenantID         string
	Title            string
	Status           string
	DocumentKey      *string // generated document artifact, required at GENERATED
	ApprovalProvider *string
	ApprovalRef      *string
	Amount           int64
	Currency         string
	Version          int64
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedBy        *string
	UpdatedAt        time.Time
}

// ── Approval types ────────────────────────────────────────────────────────────

// Approval policy providers.
const (
	ProviderInternal = "internal"
	ProviderExternal = "external"
)

// Approval statuses. APPROVED and REJECTED are terminal.
const (
	ApprovalStatusPending   = "PENDING"
	ApprovalStatusApproved  = "APPROVED"
	ApprovalStatusRejected  = "REJECTED"
	ApprovalStatusCancelled = "CANCELLED"
)

// PolicyStep is one entry in an internal policy's ordered steps array.
type PolicyStep struct {
	Step     int    `json:"step"`
	Role     string `json:"role"`
	Required bool   `json:"required"`
}

// PolicyConfig is the provider-specific policy configuration (JSONB).
type PolicyConfig struct {
	Steps            []PolicyStep `json:"steps,omitempty"`
	AutoApproveLimit *int64       `json:"auto_approve_limit,omitempty"` // cents; nil = never
	ExternalSystem   string       `json:"external_system,omitempty"`
}

// ApprovalPolicy associates an entity type and scope with an approval provider.
// Immutable per version; read-only at workflow time.
type ApprovalPolicy struct {
	ID         string
	TenantID   string
	EntityType string
	Scope      string
	Provider   string
	Config     PolicyConfig
	IsActive   bool
	Priority   int // lower = evaluated first
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Approval is one instance per submitted approval request.
// Invariant: Step is non-decreasing and bounded by TotalSteps.
type Approval struct {
	ID              string
	PolicyID        string
	EntityType      string
	EntityID        string
	TenantID        string
	Status          string
	Step            int
	TotalSteps      int
	AssigneeRole    *string
	RequestedBy     string
	Amount          int64
	DecidedBy       *string
	DecidedAt       *time.Time
	DecisionComment *string
	ExternalRef     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ── Idempotency ───────────────────────────────────────────────────────────────

// IdempotencyRecord holds one reservation per client-supplied key. Response is
// nil until the action completes; afterwards the row is replay-only.
type IdempotencyRecord struct {
	Key         string
	ActionKey   string
	ActorID     string
	RequestHash string
	Response    []byte
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// AuditLogEntry is one append-only audit row. Diff maps changed field names to
// their before/after values.
type AuditLogEntry struct {
	ID         string
	ActorID    string
	ActionKey  string
	EntityType string
	EntityID   string
	Diff       map[string]FieldChange
	RecordedAt time.Time
}

// FieldChange records one field-level change in an audit diff.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// ── Notifications ─────────────────────────────────────────────────────────────

// Outbox entry statuses.
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusDone    = "DONE"
	OutboxStatusFailed  = "FAILED"
)

// Notification job states.
const (
	JobStateQueued  = "QUEUED"
	JobStateSending = "SENDING"
	JobStateSent    = "SENT"
	JobStateFailed  = "FAILED"
)

// Notification channels.
const (
	ChannelInApp = "inapp"
	ChannelEmail = "email"
)

// OutboxEntry records "an event happened", written in the same transaction as
// the workflow transition that caused it.
type OutboxEntry struct {
	ID         string
	TenantID   string
	EntityType string
	EntityID   string
	EventKey   string
	Payload    map[string]any
	Status     string
	Attempts   int
	LastError  *string
	CreatedAt  time.Time
}

// NotificationJob is one "deliver to user U via channel C" unit derived from
// an outbox entry by the fan-out worker.
type NotificationJob struct {
	ID        string
	OutboxID  string
	TenantID  string
	UserID    string
	Channel   string
	EventKey  string
	Payload   map[string]any
	State     string
	Attempts  int
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationTemplate renders one (event, channel, locale) message. A row
// with TenantID set overrides the global default (TenantID nil).
type NotificationTemplate struct {
	ID       string
	TenantID *string
	EventKey string
	Channel  string
	Locale   string
	Subject  string
	Body     string
}

// ChannelSetting enables or disables one delivery channel for a tenant and
// carries the tenant's notification locale.
type ChannelSetting struct {
	TenantID string
	Channel  string
	Enabled  bool
	Locale   string
}

// InboxMessage is a delivered in-app notification row.
type InboxMessage struct {
	ID        string
	TenantID  string
	UserID    string
	EventKey  string
	Subject   string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}
