package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig contains relay submission settings
type SMTPConfig struct {
	Addr               string // host:port
	Username           string
	Password           string
	Security           string // none, starttls, tls
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// SMTPRelay submits messages to a relay (smarthost). The correlation id is
// the Message-ID header, which bounce and feedback processing can key on.
type SMTPRelay struct {
	config SMTPConfig
	signer *DKIMSigner
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPRelay creates an SMTP relay transport
func NewSMTPRelay(cfg SMTPConfig, logger *slog.Logger) *SMTPRelay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Security == "" {
		cfg.Security = "starttls"
	}
	return &SMTPRelay{config: cfg, logger: logger, now: time.Now}
}

// SetDKIMSigner enables DKIM signing of outbound messages
func (t *SMTPRelay) SetDKIMSigner(signer *DKIMSigner) {
	t.signer = signer
}

func (t *SMTPRelay) Name() string { return "smtp" }

// Send submits the message to the relay.
func (t *SMTPRelay) Send(ctx context.Context, msg *Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &SendError{Temporary: true, Message: err.Error(), Err: err}
	}

	messageID := newMessageID(msg.From)
	data := buildMessage(msg, messageID, t.now())

	if t.signer != nil {
		signed, err := t.signer.Sign(data)
		if err != nil {
			t.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", t.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	client, err := t.dial()
	if err != nil {
		return "", &SendError{Temporary: true, Message: fmt.Sprintf("connection failed to %s: %v", t.config.Addr, err), Err: err}
	}
	defer client.Close()

	timeout := t.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	client.CommandTimeout = timeout
	client.SubmissionTimeout = timeout

	if t.config.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", t.config.Username, t.config.Password)); err != nil {
			return "", categorizeSMTPError(err, "AUTH")
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return "", categorizeSMTPError(err, "SEND")
	}

	client.Quit()

	t.logger.Debug("message relayed", "relay", t.config.Addr, "message_id", messageID)
	return messageID, nil
}

func (t *SMTPRelay) dial() (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.config.InsecureSkipVerify,
	}
	switch t.config.Security {
	case "tls":
		return smtp.DialTLS(t.config.Addr, tlsConfig)
	case "starttls":
		return smtp.DialStartTLS(t.config.Addr, tlsConfig)
	default:
		return smtp.Dial(t.config.Addr)
	}
}

// categorizeSMTPError marks 5xx replies as permanent and everything else as temporary.
func categorizeSMTPError(err error, stage string) *SendError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return &SendError{Temporary: false, Message: msg, Err: err}
	}
	return &SendError{Temporary: true, Message: msg, Err: err}
}
