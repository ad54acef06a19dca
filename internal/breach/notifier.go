package breach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"palisade/internal/models"
)

// Notifier delivers breach disclosures. It is the only component that
// sets NotifiedAt, and it sets it exactly once per record.
type Notifier interface {
	NotifyPending(ctx context.Context) (int, error)
}

// SESNotifier sends disclosure emails through AWS SES.
type SESNotifier struct {
	sesClient   *ses.Client
	service     *Service
	repo        Repository
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier creates a notifier for the given recipients (the
// deployment's disclosure contacts).
func NewSESNotifier(region, fromAddress string, recipients []string, service *Service, repo Repository, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		service:     service,
		repo:        repo,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}, nil
}

// NotifyPending sends a disclosure for every unnotified HIGH or
// CRITICAL breach and marks each one notified on successful delivery.
// Returns the number of notifications sent.
func (n *SESNotifier) NotifyPending(ctx context.Context) (int, error) {
	records, err := n.service.ListUnnotifiedApproachingDeadline(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := n.send(ctx, record); err != nil {
			n.logger.Error("failed to send breach notification",
				slog.String("breach_id", record.ID.String()),
				slog.Any("error", err))
			continue
		}

		now := time.Now().UTC()
		if err := n.repo.MarkNotified(ctx, record.ID, now); err != nil {
			n.logger.Error("failed to mark breach notified",
				slog.String("breach_id", record.ID.String()),
				slog.Any("error", err))
			continue
		}
		sent++
	}

	return sent, nil
}

func (n *SESNotifier) send(ctx context.Context, record *models.BreachRecord) error {
	subject := fmt.Sprintf("[%s] Security breach disclosure: %s", record.Severity, record.BreachType)

	textBody := fmt.Sprintf(`Security Breach Disclosure

Breach ID:        %s
Type:             %s
Severity:         %s
Detected at:      %s
Disclosure due:   %s
Affected records: %d

Description:
%s

Mitigation steps taken:
- %s

This notification is part of the 72-hour disclosure workflow.
`,
		record.ID,
		record.BreachType,
		record.Severity,
		record.DetectedAt.Format(time.RFC3339),
		record.DisclosureDeadline().Format(time.RFC3339),
		record.AffectedRecordCount,
		record.Description,
		strings.Join(record.MitigationSteps, "\n- "),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send disclosure email: %w", err)
	}

	n.logger.Info("breach disclosure sent",
		slog.String("breach_id", record.ID.String()),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
