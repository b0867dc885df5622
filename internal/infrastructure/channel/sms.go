package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ErrNoPhoneNumber is returned when the recipient has no phone on file.
var ErrNoPhoneNumber = errors.New("recipient has no phone number")

// MaxSMSLength caps the message body in characters.
const MaxSMSLength = 320

// SNSAPI is the subset of the SNS client used by SMSSender.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient loads the default AWS credential chain for region.
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// SMSConfig configures SMSSender.
type SMSConfig struct {
	// SenderID is shown as the sender where carriers support alphanumeric IDs.
	SenderID string
}

// SMSSender delivers notifications as SMS through Amazon SNS.
type SMSSender struct {
	client SNSAPI
	cfg    SMSConfig
	clock  timeutil.Clock
	logger *zap.Logger
}

var _ notification.ChannelSender = (*SMSSender)(nil)

// NewSMSSender creates an SNS-backed sender.
func NewSMSSender(client SNSAPI, cfg SMSConfig, clock timeutil.Clock, logger *zap.Logger) *SMSSender {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSSender{client: client, cfg: cfg, clock: clock, logger: logger}
}

// Channel implements notification.ChannelSender.
func (s *SMSSender) Channel() notification.Channel { return notification.ChannelSMS }

// Send implements notification.ChannelSender.
func (s *SMSSender) Send(ctx context.Context, n *notification.Notification, recipient notification.RecipientContext) (notification.DeliveryResult, error) {
	phone := strings.TrimSpace(recipient.Phone)
	if phone == "" {
		return notification.DeliveryResult{}, notification.NewSendError(notification.ChannelSMS, ErrNoPhoneNumber, false)
	}

	smsType := "Promotional"
	if n.Priority() >= notification.PriorityHigh {
		smsType = "Transactional"
	}
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType)},
	}
	if s.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.cfg.SenderID)}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(smsText(n.Content())),
		MessageAttributes: attrs,
	})
	if err != nil {
		return notification.DeliveryResult{}, classifyAWSError(notification.ChannelSMS, err)
	}

	messageID := aws.ToString(out.MessageId)
	s.logger.Debug("sms accepted by SNS", zap.String("message_id", messageID))
	result := notification.NewDeliveryResult(notification.ChannelSMS, messageID, s.clock.Now())
	result.Metadata["sms_type"] = smsType
	return result, nil
}

func smsText(c notification.Content) string {
	text := c.Title()
	if body := strings.TrimSpace(c.Body()); body != "" {
		text += ": " + body
	}
	if utf8.RuneCountInString(text) <= MaxSMSLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxSMSLength-1]) + "…"
}
