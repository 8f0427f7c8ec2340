// Package store defines the persistence interfaces and row types shared by
// the runtime. Implementations live in store/pg.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get-style methods when no row matches.
var ErrNotFound = errors.New("not found")

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Debounce states for a conversation.
const (
	DebounceIdle       = "idle"
	DebounceWaiting    = "waiting"
	DebounceProcessing = "processing"
)

// Lead lifecycle states.
const (
	LifecycleNew               = "new"
	LifecycleContacted         = "contacted"
	LifecycleProactiveContact  = "proactive_contacted"
	LifecycleProactiveReplied  = "proactive_replied"
	LifecycleFollowUpPending   = "follow_up_pending"
	LifecycleFollowUpSent      = "follow_up_sent"
	LifecycleQualified         = "qualified"
	LifecycleHandoffDone       = "handoff_done"
	LifecycleClosedLost        = "closed_lost"
)

// Conversation is one lead/channel conversation with its debounce window.
type Conversation struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	LeadID            uuid.UUID
	CenturionID       uuid.UUID
	ChannelInstanceID uuid.UUID
	ChannelType       string
	LeadState         string
	DebounceState     string
	DebounceUntil     *time.Time
	PendingMessages   []string
	Metadata          map[string]any
	LastOutboundAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Lead is a prospect identified by phone within a company.
type Lead struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	Phone             string
	Name              string
	Email             string
	Lifecycle         string
	IsQualified       bool
	QualifiedAt       *time.Time
	QualificationData map[string]any
	PixelConfigID     *uuid.UUID
	LastContactAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message is one turn persisted in a conversation.
type Message struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	CompanyID        uuid.UUID
	Direction        string // inbound | outbound
	ContentType      string // text | audio | image | video | document
	Body             string
	ChannelMessageID string
	Metadata         map[string]any
	CreatedAt        time.Time
}

// Centurion is a tenant bot configuration.
type Centurion struct {
	ID                 uuid.UUID
	CompanyID          uuid.UUID
	Name               string
	Prompt             string
	QualificationRules json.RawMessage
	RequiredFields     []string
	DebounceWaitMS     int
	ChunkingEnabled    bool
	ChunkMaxChars      int
	ChunkDelayMS       int
	ToolCallLimit      int
	Temperature        float64
	CanProcessAudio    bool
	IsActive           bool
}

// ChannelInstance is one connected messaging account.
type ChannelInstance struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	CenturionID uuid.UUID
	ChannelType string
	ExternalID  string
	IsActive    bool
}

// FollowupRule describes one step of a company's follow-up ladder.
type FollowupRule struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	InactivityHours   float64
	MaxAttempts       int
	MessageTemplate   string
	AdaptWithLLM      bool
	InstructionPrompt string
	IsActive          bool
}

// Follow-up queue statuses.
const (
	FollowupPending    = "pending"
	FollowupProcessing = "processing"
	FollowupSent       = "sent"
	FollowupFailed     = "failed"
	FollowupCanceled   = "canceled"
)

// FollowupItem is one scheduled follow-up in the queue.
type FollowupItem struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	LeadID      uuid.UUID
	RuleID      uuid.UUID
	Attempt     int
	ScheduledAt time.Time
	Status      string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToolConfig is a tenant-defined HTTP tool.
type ToolConfig struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	CenturionID  uuid.UUID
	ToolName     string
	Description  string
	Endpoint     string
	Method       string
	Headers      map[string]string
	AuthType     string
	AuthConfig   map[string]any
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	TimeoutMS    int
	Enabled      bool
}

// MCPServer is a tenant-registered MCP tool server.
type MCPServer struct {
	ID               uuid.UUID
	CompanyID        uuid.UUID
	CenturionID      uuid.UUID
	Name             string
	ServerURL        string
	AuthType         string
	AuthConfig       map[string]any
	ToolsAvailable   json.RawMessage
	ConnectionStatus string
	LastToolsSyncAt  *time.Time
	LastError        string
	Enabled          bool
}

// MediaAsset is a stored outbound media file's metadata.
type MediaAsset struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	CenturionID   *uuid.UUID
	Name          string
	Description   string
	MediaType     string
	MimeType      string
	Tags          []string
	FileSizeBytes *int64
	CreatedAt     time.Time
}

// CompanyCRM maps a company to its CRM schema.
type CompanyCRM struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	SchemaName string
	IsPrimary  bool
}

// DealIndexEntry links a CRM-local deal back to the core schema.
type DealIndexEntry struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	SchemaName  string
	LocalDealID uuid.UUID
}

// LeadMemory is one extracted long-term fact with its embedding.
type LeadMemory struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	LeadID    uuid.UUID
	Summary   string
	Category  string
	Facts     map[string]any
	CreatedAt time.Time
}

// KnowledgeChunk is one retrievable slice of a ready knowledge document.
type KnowledgeChunk struct {
	ID       uuid.UUID
	Title    string
	Content  string
	Distance float64
}

// IntegrationBinding is a company's override for a provider integration.
type IntegrationBinding struct {
	Mode               string // global | custom | disabled
	CredentialSetID    *uuid.UUID
	ConfigOverride     map[string]any
	SecretsOverrideEnc string
}

// CredentialSet is a shared provider credential bundle.
type CredentialSet struct {
	ID         uuid.UUID
	Provider   string
	Config     map[string]any
	SecretsEnc string
}

// ToolAuditEntry is one persisted record of a tool invocation, with its
// arguments and result already redacted and truncated.
type ToolAuditEntry struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	CenturionID   uuid.UUID
	ToolName      string
	Kind          string // http | mcp | builtin
	RequestID     string
	CorrelationID string
	Args          map[string]any
	Result        map[string]any
	Success       bool
	Error         string
	DurationMS    int64
	CreatedAt     time.Time
}

// ConversationStore persists conversations and their debounce machinery.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, companyID, leadID, centurionID, instanceID uuid.UUID, channelType string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	AppendPending(ctx context.Context, id uuid.UUID, text string, debounceUntil time.Time, metadataPatch map[string]any) (int, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	ClearPending(ctx context.Context, id uuid.UUID) error
	FindDue(ctx context.Context, limit int) ([]*Conversation, error)
	RecoverStuck(ctx context.Context, stuckAfter time.Duration, limit int) (waiting, idled int, err error)
	SetLeadState(ctx context.Context, id uuid.UUID, state string) error
	TouchOutbound(ctx context.Context, id uuid.UUID) error
	FindLatestByLead(ctx context.Context, companyID, leadID uuid.UUID) (*Conversation, error)
}

// LeadStore persists leads.
type LeadStore interface {
	GetOrCreate(ctx context.Context, companyID uuid.UUID, phone, name string) (*Lead, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Lead, error)
	TouchInbound(ctx context.Context, id uuid.UUID) error
	TouchOutboundNew(ctx context.Context, id uuid.UUID) error
	UpdateQualification(ctx context.Context, id uuid.UUID, score float64, data map[string]any, qualified bool) error
	MergeQualificationData(ctx context.Context, id uuid.UUID, patch map[string]any, lifecycle string) error
	SetLastContact(ctx context.Context, id uuid.UUID, at time.Time, lifecycle string) error
}

// MessageStore persists conversation messages.
type MessageStore interface {
	Save(ctx context.Context, msg *Message) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ExistsChannelMessageID(ctx context.Context, companyID uuid.UUID, channelMessageID string) (bool, error)
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)
}

// CenturionStore reads bot configurations and channel instances.
type CenturionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Centurion, error)
	GetActiveForCompany(ctx context.Context, companyID uuid.UUID) (*Centurion, error)
	GetInstance(ctx context.Context, externalID string) (*ChannelInstance, error)
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*ChannelInstance, error)
	FindActiveInstance(ctx context.Context, companyID uuid.UUID, channelType string) (*ChannelInstance, error)
}

// FollowupStore persists the follow-up ladder and queue.
type FollowupStore interface {
	ActiveRules(ctx context.Context, companyID uuid.UUID) ([]*FollowupRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*FollowupRule, error)
	HasFutureScheduled(ctx context.Context, leadID, ruleID uuid.UUID) (bool, error)
	CountSentAttempts(ctx context.Context, leadID, ruleID uuid.UUID) (int, error)
	Schedule(ctx context.Context, item *FollowupItem) error
	ClaimDue(ctx context.Context, limit int) ([]*FollowupItem, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CancelPending(ctx context.Context, leadID uuid.UUID) (int, error)
}

// QualificationStore records idempotent qualification events.
type QualificationStore interface {
	RecordEvent(ctx context.Context, companyID, leadID uuid.UUID, correlationID string, score float64, qualified bool, results any, rulesHash string) error
}

// ToolStore reads tenant tool and MCP server configurations.
type ToolStore interface {
	ListTools(ctx context.Context, companyID, centurionID uuid.UUID) ([]*ToolConfig, error)
	ListMCPServers(ctx context.Context, companyID, centurionID uuid.UUID) ([]*MCPServer, error)
	UpdateMCPSync(ctx context.Context, serverID uuid.UUID, tools json.RawMessage, status, lastError string) error
}

// MediaStore searches stored media assets.
type MediaStore interface {
	Search(ctx context.Context, companyID, centurionID uuid.UUID, query string, tags []string, mediaType string, limit int) ([]*MediaAsset, error)
	Get(ctx context.Context, id uuid.UUID) (*MediaAsset, error)
}

// CRMStore handles handoff writes into per-company CRM schemas.
type CRMStore interface {
	PrimaryCRM(ctx context.Context, companyID uuid.UUID) (*CompanyCRM, error)
	InsertDeal(ctx context.Context, schemaName string, fields map[string]any) (uuid.UUID, error)
	InsertDealIndex(ctx context.Context, companyID uuid.UUID, schemaName string, localDealID uuid.UUID) (*DealIndexEntry, error)
	FindDealIndex(ctx context.Context, companyID uuid.UUID, schemaName string, localDealID uuid.UUID) (*DealIndexEntry, error)
}

// MemoryStore persists long-term lead memories and retrieves knowledge.
type MemoryStore interface {
	SaveMemory(ctx context.Context, mem *LeadMemory, embedding []float32) error
	HasSummary(ctx context.Context, leadID uuid.UUID, summary string) (bool, error)
	SearchMemories(ctx context.Context, leadID uuid.UUID, embedding []float32, limit int, maxDistance float64) ([]*LeadMemory, error)
	SearchKnowledge(ctx context.Context, companyID uuid.UUID, embedding []float32, limit int, maxDistance float64) ([]*KnowledgeChunk, error)
	ArchiveStaleMessages(ctx context.Context, olderThan time.Duration) (int, error)
	PruneSessionBlobs(ctx context.Context, olderThan time.Duration) (int, error)
	PruneMemories(ctx context.Context, olderThan time.Duration) (int, error)
}

// AuditStore persists tool invocation audit records.
type AuditStore interface {
	RecordToolCall(ctx context.Context, entry *ToolAuditEntry) error
}

// IntegrationStore reads company integration bindings and credential sets.
type IntegrationStore interface {
	GetBinding(ctx context.Context, companyID uuid.UUID, provider string) (*IntegrationBinding, error)
	DefaultCredentialSet(ctx context.Context, provider string) (*CredentialSet, error)
	CredentialSetByID(ctx context.Context, id uuid.UUID) (*CredentialSet, error)
}

// Stores bundles every store implementation.
type Stores struct {
	Conversations ConversationStore
	Leads         LeadStore
	Messages      MessageStore
	Centurions    CenturionStore
	Followups     FollowupStore
	Qualification QualificationStore
	Tools         ToolStore
	Media         MediaStore
	CRM           CRMStore
	Memory        MemoryStore
	Integrations  IntegrationStore
	Audit         AuditStore
}
