package nps

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/lalithlochan/backoffice/internal/db"
)

// Message is a rendered envelope, ready for a channel sender.
type Message struct {
	EnvelopeID uuid.UUID
	Channel    string
	To         string
	Subject    string
	Body       string
}

// TemplateData is what a campaign template can reference.
type TemplateData struct {
	CustomerName string
	OrderID      int64
	SurveyURL    string
}

// Renderer turns a campaign template and an envelope into a Message.
type Renderer struct {
	surveyBaseURL string
}

func NewRenderer(surveyBaseURL string) *Renderer {
	return &Renderer{surveyBaseURL: strings.TrimRight(surveyBaseURL, "/")}
}

// SurveyURL is the per-envelope answer link.
func (r *Renderer) SurveyURL(envelopeID uuid.UUID) string {
	if r.surveyBaseURL == "" {
		return ""
	}
	return r.surveyBaseURL + "/" + url.PathEscape(envelopeID.String())
}

// Render executes the campaign template for one envelope.
func (r *Renderer) Render(c *db.Campaign, env *db.Envelope) (*Message, error) {
	tmpl, err := template.New(c.ID.String()).Option("missingkey=error").Parse(c.MessageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template of campaign %s: %w", c.ID, err)
	}

	name := env.CustomerName
	if name == "" {
		name = "cliente"
	}

	var body strings.Builder
	err = tmpl.Execute(&body, TemplateData{
		CustomerName: name,
		OrderID:      env.OrderID,
		SurveyURL:    r.SurveyURL(env.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("render campaign %s: %w", c.ID, err)
	}

	subject := c.Subject
	if subject == "" {
		subject = c.Name
	}

	return &Message{
		EnvelopeID: env.ID,
		Channel:    env.Channel,
		To:         env.Contact,
		Subject:    subject,
		Body:       body.String(),
	}, nil
}
