package nps

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/backoffice/internal/db"
)

func TestRender(t *testing.T) {
	r := NewRenderer("https://nps.example.com/r/")
	campaign := &db.Campaign{
		ID:              uuid.New(),
		Name:            "Pós-venda",
		MessageTemplate: "Olá {{.CustomerName}}, como foi a compra {{.OrderID}}? {{.SurveyURL}}",
	}
	env := &db.Envelope{
		ID:           uuid.MustParse("5f0a3c1e-8a4b-4e59-9d7e-1b2c3d4e5f60"),
		OrderID:      77,
		CustomerName: "João",
		Contact:      "+5511987654321",
		Channel:      db.ChannelWhatsApp,
	}

	msg, err := r.Render(campaign, env)
	require.NoError(t, err)
	assert.Equal(t,
		"Olá João, como foi a compra 77? https://nps.example.com/r/5f0a3c1e-8a4b-4e59-9d7e-1b2c3d4e5f60",
		msg.Body)
	assert.Equal(t, "Pós-venda", msg.Subject, "falls back to the campaign name")
	assert.Equal(t, env.Contact, msg.To)
	assert.Equal(t, db.ChannelWhatsApp, msg.Channel)
	assert.Equal(t, env.ID, msg.EnvelopeID)
}

func TestRender_DefaultName(t *testing.T) {
	r := NewRenderer("")
	campaign := &db.Campaign{ID: uuid.New(), Subject: "Sua opinião", MessageTemplate: "Oi {{.CustomerName}}!"}

	msg, err := r.Render(campaign, &db.Envelope{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "Oi cliente!", msg.Body)
	assert.Equal(t, "Sua opinião", msg.Subject)
}

func TestRender_BadTemplate(t *testing.T) {
	r := NewRenderer("")

	_, err := r.Render(&db.Campaign{ID: uuid.New(), MessageTemplate: "{{.CustomerName"}, &db.Envelope{})
	assert.Error(t, err)

	_, err = r.Render(&db.Campaign{ID: uuid.New(), MessageTemplate: "{{.Coupon}}"}, &db.Envelope{})
	assert.Error(t, err, "unknown field")
}
