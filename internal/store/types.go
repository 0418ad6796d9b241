// Package store defines the entities shared by the relay's domain services
// and the errors used to report their absence or conflict. Persistence
// itself lives in store/pg; this package only carries shapes.
package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrConflict     = errors.New("store: conflict")
	ErrInvalidInput = errors.New("store: invalid input")
)

// Team roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Team struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TeamMember struct {
	TeamID   string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Conversation types.
const (
	ConversationDM    = "dm"
	ConversationGroup = "group"
)

type Conversation struct {
	ID        string
	Type      string
	Name      *string
	CreatedBy string
	CreatedAt time.Time
}

type ConversationMember struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
	LastReadAt     *time.Time
}

type Contact struct {
	ID          string
	DisplayName string
	Email       *string
	AvatarURL   *string
	TezAddress  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tez types, urgencies, visibilities, statuses.
const (
	TezTypeNote     = "note"
	TezTypeDecision = "decision"
	TezTypeHandoff  = "handoff"
	TezTypeQuestion = "question"
	TezTypeUpdate   = "update"

	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyNormal   = "normal"
	UrgencyLow      = "low"
	UrgencyFYI      = "fyi"

	VisibilityTeam    = "team"
	VisibilityDM      = "dm"
	VisibilityGroup   = "group"
	VisibilityPrivate = "private"

	TezStatusActive   = "active"
	TezStatusArchived = "archived"
	TezStatusDeleted  = "deleted"
)

var validTezTypes = map[string]bool{
	TezTypeNote: true, TezTypeDecision: true, TezTypeHandoff: true,
	TezTypeQuestion: true, TezTypeUpdate: true,
}

var validUrgencies = map[string]bool{
	UrgencyCritical: true, UrgencyHigh: true, UrgencyNormal: true,
	UrgencyLow: true, UrgencyFYI: true,
}

var validVisibilities = map[string]bool{
	VisibilityTeam: true, VisibilityDM: true, VisibilityGroup: true, VisibilityPrivate: true,
}

func ValidTezType(t string) bool    { return validTezTypes[t] }
func ValidUrgency(u string) bool    { return validUrgencies[u] }
func ValidVisibility(v string) bool { return validVisibilities[v] }

type Tez struct {
	ID              string
	TeamID          *string
	ConversationID  *string
	ThreadID        string
	ParentTezID     *string
	SurfaceText     string
	Type            string
	Urgency         string
	ActionRequested *string
	SenderUserID    string
	Visibility      string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Context layers, confidence sources.
const (
	LayerBackground   = "background"
	LayerFact         = "fact"
	LayerArtifact     = "artifact"
	LayerRelationship = "relationship"
	LayerConstraint   = "constraint"
	LayerHint         = "hint"

	SourceStated   = "stated"
	SourceInferred = "inferred"
	SourceVerified = "verified"

	SystemCreator = "system"
)

var validLayers = map[string]bool{
	LayerBackground: true, LayerFact: true, LayerArtifact: true,
	LayerRelationship: true, LayerConstraint: true, LayerHint: true,
}

var validSources = map[string]bool{
	SourceStated: true, SourceInferred: true, SourceVerified: true,
}

func ValidLayer(l string) bool  { return validLayers[l] }
func ValidSource(s string) bool { return s == "" || validSources[s] }

type TezContext struct {
	ID          string
	TezID       string
	Layer       string
	Content     string
	MimeType    *string
	Confidence  *int
	Source      *string
	DerivedFrom *string
	CreatedBy   string
}

type TezRecipient struct {
	TezID          string
	UserID         string
	DeliveredAt    time.Time
	ReadAt         *time.Time
	AcknowledgedAt *time.Time
}

// Peer trust levels.
const (
	TrustPending = "pending"
	TrustTrusted = "trusted"
	TrustBlocked = "blocked"
)

type Peer struct {
	Host        string
	ServerID    string
	PublicKey   string // base64
	DisplayName *string
	TrustLevel  string
	FirstSeenAt time.Time
}

// Outbound delivery statuses.
const (
	DeliveryQueued   = "queued"
	DeliveryInFlight = "in_flight"
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
)

type OutboundDelivery struct {
	ID            string
	TargetHost    string
	Bundle        string // canonical JSON
	Status        string
	Attempts      int
	NextAttemptAt time.Time
}

// Audit actions.
const (
	ActionTezShared           = "tez.shared"
	ActionTezReplied          = "tez.replied"
	ActionTezRead             = "tez.read"
	ActionTezReceived         = "tez.received"
	ActionTezAcknowledged     = "tez.acknowledged"
	ActionTezArchived         = "tez.archived"
	ActionTezDeleted          = "tez.deleted"
	ActionTeamCreated         = "team.created"
	ActionTeamMemberAdded     = "team.member_added"
	ActionTeamMemberRemoved   = "team.member_removed"
	ActionContactRegistered   = "contact.registered"
	ActionContactUpdated      = "contact.updated"
	ActionPeerTrusted         = "peer.trusted"
	ActionPeerBlocked         = "peer.blocked"
	ActionPeerRemoved         = "peer.removed"
	ActionConversationCreated = "conversation.created"
)

// NewTez is the input to ShareTez / IngestFederatedTez: a Tez plus its
// context entries and local recipients. Remote recipients are handled
// separately via OutboundDelivery rows, since they require signing and
// network I/O the store layer doesn't perform.
type NewTez struct {
	Tez             Tez
	Context         []TezContext
	LocalRecipients []string
}

type AuditEntry struct {
	ID           string
	TeamID       *string
	ActorUserID  string
	Action       string
	TargetType   string
	TargetID     string
	Metadata     map[string]any
	CreatedAt    time.Time
}
