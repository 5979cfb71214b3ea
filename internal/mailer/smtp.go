package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/lumenshop/mailsched/internal/model"
)

// Result aggregates per-recipient outcomes of one delivery attempt.
type Result struct {
	Sent   int
	Failed int
}

type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	FromName      string
	RatePerSecond float64
	MaxElapsed    time.Duration
}

// SMTPMailer sends one message per recipient over a single SMTP connection.
// The dial is retried with exponential backoff; individual recipient failures
// are counted and skipped so one bad address never blocks the batch.
type SMTPMailer struct {
	dialer     *gomail.Dialer
	from       string
	fromName   string
	limiter    *rate.Limiter
	maxElapsed time.Duration
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	limit := cfg.RatePerSecond
	if limit <= 0 {
		limit = 10
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	return &SMTPMailer{
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:       cfg.From,
		fromName:   cfg.FromName,
		limiter:    rate.NewLimiter(rate.Limit(limit), int(limit)+1),
		maxElapsed: maxElapsed,
	}
}

// Send delivers tmpl to every recipient. The returned error is non-nil only
// when the SMTP connection itself could not be established: per-recipient
// failures are reported through Result.Failed.
func (m *SMTPMailer) Send(ctx context.Context, recipients []string, tmpl model.Template, attachments []model.Attachment) (Result, error) {
	body, err := renderBody(tmpl)
	if err != nil {
		return Result{Failed: len(recipients)}, fmt.Errorf("render body: %w", err)
	}

	closer, err := m.dial(ctx)
	if err != nil {
		return Result{Failed: len(recipients)}, fmt.Errorf("smtp dial: %w", err)
	}
	defer closer.Close()

	var res Result
	msg := gomail.NewMessage()

	for _, addr := range recipients {
		if err := m.limiter.Wait(ctx); err != nil {
			res.Failed += len(recipients) - res.Sent - res.Failed
			return res, err
		}

		msg.Reset()
		msg.SetAddressHeader("From", m.from, m.fromName)
		msg.SetHeader("To", addr)
		msg.SetHeader("Subject", tmpl.Subject)
		msg.SetBody("text/html", body)
		for _, a := range attachments {
			if a.StoragePath == "" {
				continue
			}
			msg.Attach(a.StoragePath, gomail.Rename(a.Filename))
		}

		if err := gomail.Send(closer, msg); err != nil {
			slog.Warn("recipient delivery failed", "to", addr, "error", err)
			res.Failed++
			continue
		}
		res.Sent++
	}

	return res, nil
}

func (m *SMTPMailer) dial(ctx context.Context) (gomail.SendCloser, error) {
	var closer gomail.SendCloser

	operation := func() error {
		c, err := m.dialer.Dial()
		if err != nil {
			return err
		}
		closer = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = m.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return closer, nil
}
