package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESClient is the subset of the SES API the notifier uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAdminNotifier emails severe threats to the administrators using AWS SES
type SESAdminNotifier struct {
	client      SESClient
	fromAddress string
	admins      []string
	logger      *slog.Logger
}

// NewSESAdminNotifier creates a notifier backed by the default AWS config
func NewSESAdminNotifier(ctx context.Context, region, fromAddress string, admins []string, logger *slog.Logger) (*SESAdminNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESAdminNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, admins, logger), nil
}

func NewSESAdminNotifierWithClient(client SESClient, fromAddress string, admins []string, logger *slog.Logger) *SESAdminNotifier {
	return &SESAdminNotifier{
		client:      client,
		fromAddress: fromAddress,
		admins:      admins,
		logger:      logger,
	}
}

// NotifyAdmins sends one email per threat to every administrator
func (n *SESAdminNotifier) NotifyAdmins(ctx context.Context, threat models.Threat) error {
	if len(n.admins) == 0 {
		n.logger.WarnContext(ctx, "no administrators configured for threat notification",
			slog.String("threat_id", threat.ID))
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.admins,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[CareGuard %s] %s", threat.Severity, threat.Type)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(threatEmailBody(threat)),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to send threat notification via SES",
			slog.String("threat_id", threat.ID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.InfoContext(ctx, "threat notification sent",
		slog.String("threat_id", threat.ID),
		slog.Int("recipients", len(n.admins)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func threatEmailBody(threat models.Threat) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A %s severity threat was detected.\n\n", threat.Severity)
	fmt.Fprintf(&b, "Threat ID:   %s\n", threat.ID)
	fmt.Fprintf(&b, "Type:        %s\n", threat.Type)
	fmt.Fprintf(&b, "Subject:     %s\n", logger.MaskSubject(threat.Subject))
	fmt.Fprintf(&b, "Detected at: %s\n", threat.DetectedAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Details:     %s\n\n", threat.Description)

	b.WriteString("Recommended actions:\n")
	for _, action := range models.RecommendedActions(threat.Severity) {
		fmt.Fprintf(&b, "  - %s\n", action)
	}

	b.WriteString("\nThis is an automated message. Please do not reply to this email.\n")
	return b.String()
}

// LogAdminNotifier writes threat notifications to the log. It stands in for
// SES when no sender is configured.
type LogAdminNotifier struct {
	logger *slog.Logger
}

func NewLogAdminNotifier(logger *slog.Logger) *LogAdminNotifier {
	return &LogAdminNotifier{logger: logger}
}

func (n *LogAdminNotifier) NotifyAdmins(ctx context.Context, threat models.Threat) error {
	n.logger.ErrorContext(ctx, "administrator attention required",
		slog.String("threat_id", threat.ID),
		slog.String("type", string(threat.Type)),
		slog.String("severity", string(threat.Severity)),
		slog.String("subject", logger.MaskSubject(threat.Subject)),
		slog.String("description", threat.Description),
	)
	return nil
}
