package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrInvalidPhone = errors.New("invalid phone number")

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioSender sends SMS through the Twilio messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{client: client, from: cfg.From}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	err := runWithContext(ctx, func() error {
		_, err := s.client.Api.CreateMessage(params)
		return err
	})
	if err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}
	return nil
}

// NormalizePhone converts a local or international number to E.164. Numbers
// without an international prefix are read as national numbers of the
// country owning countryCode (212 is Morocco). Numbers that do not match
// the numbering plan are rejected.
func NormalizePhone(raw, countryCode string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), regionFor(countryCode))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// regionFor maps a calling code such as "212" or "+212" to its main region.
// Unknown codes yield "ZZ", which only accepts numbers written with a
// leading +.
func regionFor(countryCode string) string {
	cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(countryCode), "+"))
	if err != nil {
		return "ZZ"
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}
