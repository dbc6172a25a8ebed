package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"memberdeals-notifications/internal/common/config"
	"memberdeals-notifications/internal/common/logger"
)

// SESService is the subset of the SES client used here, defined for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	GetSendQuota(ctx context.Context, params *ses.GetSendQuotaInput, optFns ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error)
}

// SESTransport is the alternative primary transport, selected with
// transport.provider: ses.
type SESTransport struct {
	client    SESService
	timeout   config.TransportConfig
	fromName  string
	fromEmail string
	logger    logger.Logger
}

func NewSES(ctx context.Context, cfg config.TransportConfig, fromName, fromEmail string, log logger.Logger) (*SESTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESTransport{
		client:    ses.NewFromConfig(awsCfg),
		timeout:   cfg,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"transport": "ses"}),
	}, nil
}

// NewSESWithClient injects a client, used by tests.
func NewSESWithClient(client SESService, cfg config.TransportConfig, fromName, fromEmail string, log logger.Logger) *SESTransport {
	return &SESTransport{
		client:    client,
		timeout:   cfg,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"transport": "ses"}),
	}
}

func (t *SESTransport) Send(ctx context.Context, msg *Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout.Timeout)
	defer cancel()

	out, err := t.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Text)},
				Html: &types.Content{Data: aws.String(msg.HTML)},
			},
		},
		Source: aws.String(fmt.Sprintf("%s <%s>", t.fromName, t.fromEmail)),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// Verify checks SES reachability by reading the account send quota.
func (t *SESTransport) Verify(ctx context.Context) error {
	_, err := t.client.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	return err
}
