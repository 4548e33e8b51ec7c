// Package output delivers guardian alerts to people.
package output

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// ContactBook resolves a guardian's phone number.
type ContactBook interface {
	GuardianPhone(ctx context.Context, parentID string) (string, error)
}

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioConfig holds Twilio credentials and the sending number.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSMS texts guardians when a dependent's content is flagged. The
// message names the flagged categories only.
type TwilioSMS struct {
	api        messageCreator
	fromNumber string
	contacts   ContactBook
}

func NewTwilioSMS(cfg TwilioConfig, contacts ContactBook) (*TwilioSMS, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number must be set")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact book is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSMS{api: client.Api, fromNumber: cfg.FromNumber, contacts: contacts}, nil
}

// Name identifies the sink in logs and metrics.
func (o *TwilioSMS) Name() string {
	return "twilio"
}

// Send texts the guardian. A guardian without a phone number is skipped.
func (o *TwilioSMS) Send(ctx context.Context, alert model.GuardianAlert) error {
	to, err := o.contacts.GuardianPhone(ctx, alert.ParentID)
	if err != nil {
		return fmt.Errorf("lookup guardian phone: %w", err)
	}
	if to == "" {
		return nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(o.fromNumber)
	params.SetBody(AlertText(alert))

	if _, err := o.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}

// AlertText renders the SMS body for an alert.
func AlertText(alert model.GuardianAlert) string {
	categories := "unspecified"
	if len(alert.FlaggedCategories) > 0 {
		categories = strings.Join(alert.FlaggedCategories, ", ")
	}
	return fmt.Sprintf("Reading tutor alert: content from student %s was blocked at %s (categories: %s).",
		alert.StudentID, alert.OccurredAt.Format("2006-01-02 15:04 MST"), categories)
}
