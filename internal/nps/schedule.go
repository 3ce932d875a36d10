package nps

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
)

// ScheduleRequest is what a campaign trigger knows about a sale.
type ScheduleRequest struct {
	CampaignID   uuid.UUID
	OrderID      int64
	CustomerName string
	Contact      string
	// Channel is optional; it is derived from Contact when empty.
	Channel    string
	EligibleAt time.Time
}

// Schedule creates a pending envelope for a sale. A second envelope for the
// same order and campaign is ErrConflict.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*db.Envelope, error) {
	if req.OrderID <= 0 {
		return nil, apperr.Validation("order_id must be positive")
	}
	if req.CampaignID == uuid.Nil {
		return nil, apperr.Validation("campaign_id is required")
	}

	channel, contact, err := NormalizeContact(req.Channel, req.Contact)
	if err != nil {
		return nil, err
	}

	campaign, err := s.Campaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Active {
		return nil, apperr.Validation(fmt.Sprintf("campaign %s is not active", campaign.ID))
	}

	eligibleAt := req.EligibleAt
	if eligibleAt.IsZero() {
		eligibleAt = s.now()
	}

	env := &db.Envelope{
		ID:           uuid.New(),
		CampaignID:   req.CampaignID,
		OrderID:      req.OrderID,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Contact:      contact,
		Channel:      channel,
		EligibleAt:   eligibleAt.UTC(),
		Status:       db.EnvelopePending,
	}
	if err := s.store.CreateEnvelope(ctx, env); err != nil {
		return nil, err
	}

	s.logger.Info("nps envelope scheduled",
		zap.String("envelope_id", env.ID.String()),
		zap.Int64("order_id", env.OrderID),
		zap.String("channel", env.Channel),
		zap.Time("eligible_at", env.EligibleAt),
	)
	return env, nil
}

// NormalizeContact checks the contact against the channel, deriving the
// channel when it is empty: an address with "@" is email, digits are sms.
// Phone numbers are reduced to E.164 with a leading "+".
func NormalizeContact(channel, contact string) (string, string, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "", "", apperr.Validation("contact is required")
	}

	if channel == "" {
		if strings.Contains(contact, "@") {
			channel = db.ChannelEmail
		} else {
			channel = db.ChannelSMS
		}
	}

	switch channel {
	case db.ChannelEmail:
		addr, err := mail.ParseAddress(contact)
		if err != nil {
			return "", "", apperr.Validation("contact is not a valid e-mail address")
		}
		return channel, strings.ToLower(addr.Address), nil
	case db.ChannelSMS, db.ChannelWhatsApp:
		phone, err := normalizePhone(contact)
		if err != nil {
			return "", "", err
		}
		return channel, phone, nil
	}
	return "", "", apperr.Validation(fmt.Sprintf("channel must be one of %s, %s, %s",
		db.ChannelEmail, db.ChannelSMS, db.ChannelWhatsApp))
}

func normalizePhone(s string) (string, error) {
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", apperr.Validation("contact is not a valid phone number")
		}
	}
	digits := b.Len() - 1
	if digits < 10 || digits > 15 {
		return "", apperr.Validation("phone number must have 10 to 15 digits")
	}
	return b.String(), nil
}
