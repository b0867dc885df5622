// Package channel contains the ChannelSender implementations: SES email, SNS
// SMS, websocket push (in-app, desktop, system) and server-sent events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ErrNoEmailAddress is returned when the recipient has no email on file.
var ErrNoEmailAddress = errors.New("recipient has no email address")

// SESAPI is the subset of the SES client used by EmailSender.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewSESClient loads the default AWS credential chain for region.
func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return ses.NewFromConfig(cfg), nil
}

// EmailConfig configures EmailSender.
type EmailConfig struct {
	FromAddress      string
	ConfigurationSet string
}

// EmailSender delivers notifications through Amazon SES.
type EmailSender struct {
	client SESAPI
	cfg    EmailConfig
	clock  timeutil.Clock
	logger *zap.Logger
}

var _ notification.ChannelSender = (*EmailSender)(nil)

// NewEmailSender creates an SES-backed sender.
func NewEmailSender(client SESAPI, cfg EmailConfig, clock timeutil.Clock, logger *zap.Logger) *EmailSender {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{client: client, cfg: cfg, clock: clock, logger: logger}
}

// Channel implements notification.ChannelSender.
func (s *EmailSender) Channel() notification.Channel { return notification.ChannelEmail }

// Send implements notification.ChannelSender.
func (s *EmailSender) Send(ctx context.Context, n *notification.Notification, recipient notification.RecipientContext) (notification.DeliveryResult, error) {
	to := strings.TrimSpace(recipient.Email)
	if to == "" {
		return notification.DeliveryResult{}, notification.NewSendError(notification.ChannelEmail, ErrNoEmailAddress, false)
	}

	content := n.Content()
	input := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(content.Title()), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(content.Body()), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(renderEmailHTML(content)), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(s.cfg.FromAddress),
		Tags: []types.MessageTag{
			{Name: aws.String("notification_type"), Value: aws.String(sanitizeTag(n.Type().String()))},
		},
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return notification.DeliveryResult{}, classifyAWSError(notification.ChannelEmail, err)
	}

	messageID := aws.ToString(out.MessageId)
	s.logger.Debug("email accepted by SES", zap.String("message_id", messageID))
	return notification.NewDeliveryResult(notification.ChannelEmail, messageID, s.clock.Now()), nil
}

func renderEmailHTML(c notification.Content) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if c.ImageURL() != "" {
		fmt.Fprintf(&b, `<img src="%s" alt="" style="max-width:100%%"/>`, html.EscapeString(c.ImageURL()))
	}
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(c.Title()))
	for _, para := range strings.Split(c.Body(), "\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(para))
	}
	b.WriteString("</body></html>")
	return b.String()
}

// SES tag values allow only alphanumerics, '_' and '-'.
func sanitizeTag(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, v)
}
