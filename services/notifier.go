package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier texts appointment requests to the business through Twilio
type SMSNotifier struct {
	api     messageCreator
	from    string
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewSMSNotifier returns nil when Twilio is not configured
func NewSMSNotifier(cfg *config.Config, m *metrics.Metrics) *SMSNotifier {
	if !cfg.TwilioEnabled() {
		return nil
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})

	return &SMSNotifier{
		api:     client.Api,
		from:    cfg.TwilioPhoneNumber,
		metrics: m,
		log:     logger.Component("sms"),
	}
}

// SendMessage sends an SMS message using Twilio
func (n *SMSNotifier) SendMessage(to, message string) (err error) {
	start := time.Now()
	defer func() { n.metrics.ObserveVendor("twilio", "sms", start, err) }()

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(n.from)
	params.SetBody(message)

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		return errors.Wrapf(err, "sending sms to %s", to)
	}
	if resp != nil && resp.Sid != nil {
		n.log.Info("Sent SMS %s to %s", *resp.Sid, to)
	}
	return nil
}

// NotifyAppointment texts the captured booking to the business phone
func (n *SMSNotifier) NotifyAppointment(ctx context.Context, businessPhone, businessName, callerNumber string, appt Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if businessPhone == "" {
		return errors.Wrap(ErrInvalidArgument, "business phone is required")
	}
	return n.SendMessage(businessPhone, FormatAppointmentSMS(businessName, callerNumber, appt))
}

// FormatAppointmentSMS renders the message sent to the business
func FormatAppointmentSMS(businessName, callerNumber string, appt Appointment) string {
	var b strings.Builder
	if businessName != "" {
		fmt.Fprintf(&b, "New appointment request for %s\n", businessName)
	} else {
		b.WriteString("New appointment request\n")
	}

	phone := appt.Phone
	if phone == "" {
		phone = callerNumber
	}
	fields := []struct{ label, value string }{
		{"Name", appt.Name},
		{"Phone", phone},
		{"Service", appt.Service},
		{"Date", appt.Date},
		{"Time", appt.Time},
		{"Notes", appt.Notes},
	}
	for _, f := range fields {
		if f.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
