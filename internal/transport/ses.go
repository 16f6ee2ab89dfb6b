package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESConfig contains AWS SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string // enables event publishing to SNS
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through Amazon SES v2.
type SES struct {
	client           sesAPI
	configurationSet string
}

// NewSES creates an SES transport
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

func newSESWithClient(client sesAPI, configurationSet string) *SES {
	return &SES{client: client, configurationSet: configurationSet}
}

func (s *SES) Name() string { return "ses" }

// Send delivers the message and returns the SES message id.
func (s *SES) Send(ctx context.Context, msg *Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	for _, t := range sanitizeTags(msg.Tags) {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(t.Name), Value: aws.String(t.Value)})
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(err)
	}
	if out.MessageId == nil || *out.MessageId == "" {
		return "", &SendError{Temporary: true, Message: "ses returned no message id"}
	}
	return *out.MessageId, nil
}

func classifySESError(err error) error {
	var (
		rejected   *types.MessageRejected
		bad        *types.BadRequestException
		unverified *types.MailFromDomainNotVerifiedException
	)
	permanent := errors.As(err, &rejected) || errors.As(err, &bad) || errors.As(err, &unverified)

	return &SendError{Temporary: !permanent, Message: fmt.Sprintf("ses send failed: %v", err), Err: err}
}
