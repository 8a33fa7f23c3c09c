// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package report

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/version"
)

// SESAPI is the subset of the SES client used by [Mail].
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSAPI is the subset of the SNS client used by [SNS].
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// LoadAWSConfig loads the default AWS configuration for the given region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// Mail is a [Reporter] that emails anomalies through Amazon SES.
type Mail struct {
	Client  SESAPI
	From    string
	To      string
	Logger  zerolog.Logger
	Include []Kind // if empty, all kinds are mailed
}

// NewMail returns a [Mail] reporter that uses the SES client built from cfg.
func NewMail(cfg aws.Config, from, to string, logger zerolog.Logger) *Mail {
	return &Mail{
		Client: ses.NewFromConfig(cfg),
		From:   from,
		To:     to,
		Logger: logger,
	}
}

// Report implements [Reporter].
func (m *Mail) Report(ctx context.Context, kind Kind, detail string) {
	if m.To == "" || !wanted(m.Include, kind) {
		return
	}
	subject := fmt.Sprintf("[%s] %s", version.CmdName(), kind)
	_, err := m.Client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{m.To},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(detail)},
			},
		},
		Source: aws.String(m.From),
	})
	if err != nil {
		m.Logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to mail anomaly")
	}
}

// SNS is a [Reporter] that publishes anomalies to an Amazon SNS topic.
type SNS struct {
	Client   SNSAPI
	TopicARN string
	Logger   zerolog.Logger
	Include  []Kind // if empty, all kinds are published
}

// NewSNS returns an [SNS] reporter that uses the SNS client built from cfg.
func NewSNS(cfg aws.Config, topicARN string, logger zerolog.Logger) *SNS {
	return &SNS{
		Client:   sns.NewFromConfig(cfg),
		TopicARN: topicARN,
		Logger:   logger,
	}
}

// Report implements [Reporter].
func (s *SNS) Report(ctx context.Context, kind Kind, detail string) {
	if s.TopicARN == "" || !wanted(s.Include, kind) {
		return
	}
	_, err := s.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.TopicARN),
		Subject:  aws.String(fmt.Sprintf("[%s] %s", version.CmdName(), kind)),
		Message:  aws.String(detail),
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to publish anomaly")
	}
}
