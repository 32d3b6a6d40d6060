package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/queue"
)

const userAgent = "Scribe-Go/0.1.0"

// UserLookup resolves a job owner for email delivery.
type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*queue.User, error)
}

// Service delivers job outcome notifications over ntfy and email. Delivery
// failures are logged and never returned to the job path.
type Service struct {
	ntfy        *ntfyClient
	email       *emailClient
	users       UserLookup
	onCompleted bool
	onFailed    bool
	logger      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithEmailEndpoint points the SendGrid client at a different base URL.
func WithEmailEndpoint(baseURL string) Option {
	return func(s *Service) {
		if s.email != nil {
			s.email.client.BaseURL = strings.TrimRight(baseURL, "/") + "/v3/mail/send"
		}
	}
}

// NewService builds a Service from configuration. Channels without settings
// stay disabled; a Service with none is a no-op.
func NewService(cfg *config.Config, users UserLookup, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		users:  users,
		logger: logging.NewComponentLogger(logger, "notifications"),
	}
	if cfg == nil {
		return s
	}
	n := cfg.Notifications
	s.onCompleted = n.OnCompleted
	s.onFailed = n.OnFailed

	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		s.ntfy = &ntfyClient{endpoint: topic, client: &http.Client{Timeout: timeout}}
	}
	if key := strings.TrimSpace(n.SendGridAPIKey); key != "" && n.EmailFrom != "" {
		s.email = &emailClient{
			client:  sendgrid.NewSendClient(key),
			from:    mail.NewEmail(n.EmailFromName, n.EmailFrom),
			timeout: timeout,
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s != nil && (s.ntfy != nil || s.email != nil)
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// JobCompleted announces a finished transcript.
func (s *Service) JobCompleted(ctx context.Context, job *queue.Job) {
	if s == nil || job == nil || !s.onCompleted {
		return
	}
	name := displayName(job)
	message := fmt.Sprintf("✅ Transcript ready: %s", name)
	if job.DetectedLanguage != "" {
		message += fmt.Sprintf(" (%s)", job.DetectedLanguage)
	}
	if job.DurationMS > 0 {
		message += fmt.Sprintf("\nDuration: %s", (time.Duration(job.DurationMS) * time.Millisecond).Round(time.Second))
	}
	s.deliver(ctx, job, payload{
		title:   "Scribe - Transcript Ready",
		message: message,
		tags:    []string{"scribe", "job", "completed"},
	})
}

// JobFailed announces a job that ended in failure.
func (s *Service) JobFailed(ctx context.Context, job *queue.Job) {
	if s == nil || job == nil || !s.onFailed {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Transcription failed: %s", displayName(job))
	if stage := strings.TrimSpace(job.FailedStage); stage != "" {
		fmt.Fprintf(&b, "\nStage: %s", stage)
	}
	if reason := strings.TrimSpace(job.Error); reason != "" {
		fmt.Fprintf(&b, "\nError: %s", reason)
	}
	s.deliver(ctx, job, payload{
		title:    "Scribe - Job Failed",
		message:  b.String(),
		tags:     []string{"scribe", "job", "failed"},
		priority: "high",
	})
}

// TestNotification sends a test message on every configured channel. Unlike
// job notifications, errors are returned.
func (s *Service) TestNotification(ctx context.Context, recipient string) error {
	data := payload{
		title:    "Scribe - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"scribe", "test"},
		priority: "low",
	}
	if s.ntfy != nil {
		if err := s.ntfy.send(ctx, data); err != nil {
			return err
		}
	}
	if s.email != nil && strings.TrimSpace(recipient) != "" {
		if err := s.email.send(ctx, recipient, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, job *queue.Job, data payload) {
	logger := s.logger.With(logging.Int64(logging.FieldJobID, job.ID))
	if s.ntfy != nil {
		if err := s.ntfy.send(ctx, data); err != nil {
			logging.WarnWithContext(logger, "ntfy notification failed", "notification_failed",
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operator was not notified"),
				logging.Error(err),
			)
		}
	}
	if s.email == nil || s.users == nil {
		return
	}
	owner, err := s.users.UserByID(ctx, job.OwnerID)
	if err != nil || owner == nil {
		logger.Debug("job owner unavailable for email", logging.Int64(logging.FieldUserID, job.OwnerID), logging.Error(err))
		return
	}
	if err := s.email.send(ctx, owner.Email, data); err != nil {
		logging.WarnWithContext(logger, "email notification failed", "notification_failed",
			logging.String(logging.FieldErrorHint, "check notifications.sendgrid_api_key and email_from"),
			logging.String(logging.FieldImpact, "job owner was not emailed"),
			logging.Error(err),
		)
	}
}

func displayName(job *queue.Job) string {
	name := strings.TrimSpace(job.Filename)
	if name == "" {
		name = fmt.Sprintf("job %d", job.ID)
	}
	if job.SizeBytes > 0 {
		name += " (" + humanize.IBytes(uint64(job.SizeBytes)) + ")"
	}
	return name
}

type ntfyClient struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyClient) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type emailClient struct {
	client  *sendgrid.Client
	from    *mail.Email
	timeout time.Duration
}

func (e *emailClient) send(ctx context.Context, recipient string, data payload) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	message := mail.NewSingleEmail(e.from, data.title, mail.NewEmail("", recipient), data.message, "")
	resp, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		body := resp.Body
		if len(body) > 2048 {
			body = body[:2048]
		}
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}
	return nil
}
