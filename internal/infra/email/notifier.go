package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"go.uber.org/zap"
)

type SMTPNotifier struct {
	addr     string
	from     string
	fallback string
	logger   *zap.Logger
}

// NewSMTPNotifier sends failure notices from the given address. Jobs started
// without a user email are reported to fallback.
func NewSMTPNotifier(host string, smtpPort int, from, fallback string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{addr: fmt.Sprintf("%s:%d", host, smtpPort), from: from, fallback: fallback, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, notice port.FailureNotice) error {
	to := notice.UserEmail
	if to == "" {
		to = n.fallback
	}
	log := n.logger.With(zap.String("job_id", notice.JobID), zap.String("state", string(notice.State)))
	if to == "" {
		log.Warn("no recipient for failure notification")
		return nil
	}

	if err := smtp.SendMail(n.addr, nil, n.from, []string{to}, []byte(buildMessage(n.from, to, notice))); err != nil {
		log.Error("failed to send failure notification", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	log.Info("failure notification sent", zap.String("to", to))
	return nil
}

func buildMessage(from, to string, notice port.FailureNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\n", from, to)
	fmt.Fprintf(&b, "Subject: FIAP X - Analysis failed at %s [Job %s]\r\n\r\n", notice.State, notice.JobID)

	b.WriteString("Hello,\r\n\r\nYour analysis job stopped and will not be retried.\r\n\r\n")
	fmt.Fprintf(&b, "Job ID: %s\r\n", notice.JobID)
	fmt.Fprintf(&b, "Media: s3://%s/%s\r\n", notice.Bucket, notice.Key)
	fmt.Fprintf(&b, "Step: %s\r\n", notice.State)
	if notice.MaxAttempts > 0 {
		fmt.Fprintf(&b, "Attempts: %d of %d\r\n", notice.Attempt, notice.MaxAttempts)
	}
	fmt.Fprintf(&b, "Error: %s\r\n\r\n", notice.Reason)
	b.WriteString("Check the model status and start the analysis again, or contact support.\r\n\r\n")
	b.WriteString("-- FIAP X Analysis Service")
	return b.String()
}
