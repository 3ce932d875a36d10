package db

import (
	"time"

	"github.com/google/uuid"
)

// SyncJob is a pending synchronization request for one register (till) of a branch.
type SyncJob struct {
	ID          int64      `json:"id"`
	BranchID    int64      `json:"branch_id"`
	RegisterID  int64      `json:"register_id"`
	PayloadDate time.Time  `json:"payload_date"`
	Initial     bool       `json:"initial"`
	State       JobState   `json:"state"`
	ClaimedBy   *string    `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ErrorDetail *string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Device is a point-of-sale terminal identified by its hardware/install fingerprint.
type Device struct {
	Fingerprint string     `json:"fingerprint"`
	Authorized  bool       `json:"authorized"`
	SellerID    *int64     `json:"seller_id,omitempty"`
	Active      bool       `json:"active"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Envelope is one outbound NPS survey message.
type Envelope struct {
	ID           uuid.UUID  `json:"id"`
	CampaignID   uuid.UUID  `json:"campaign_id"`
	OrderID      int64      `json:"order_id"`
	CustomerName string     `json:"customer_name"`
	Contact      string     `json:"contact"`
	Channel      string     `json:"channel"`
	EligibleAt   time.Time  `json:"eligible_at"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Envelope status values, stored as-is.
const (
	EnvelopePending = "pendente"
	EnvelopeSent    = "enviado"
	EnvelopeErrored = "erro"
)

// Channel constants
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// Campaign is an NPS campaign. The scheduler only reads it.
type Campaign struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Subject         string    `json:"subject"`
	MessageTemplate string    `json:"message_template"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Seller is a salesperson that can log in and own devices.
type Seller struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"active"`
}
