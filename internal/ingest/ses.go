package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

// snsMessage is the AWS SNS envelope
type snsMessage struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
	Timestamp    string `json:"Timestamp"`
}

// sesEvent is an SES event publishing record
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Delivery *struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery,omitempty"`
	Open *struct {
		Timestamp string `json:"timestamp"`
	} `json:"open,omitempty"`
	Click *struct {
		Timestamp string `json:"timestamp"`
		Link      string `json:"link"`
	} `json:"click,omitempty"`
	Bounce *struct {
		BounceType string `json:"bounceType"`
		Timestamp  string `json:"timestamp"`
	} `json:"bounce,omitempty"`
	Complaint *struct {
		Timestamp string `json:"timestamp"`
	} `json:"complaint,omitempty"`
}

// SESNormalizer parses SES events delivered through SNS HTTP subscriptions
type SESNormalizer struct {
	logger *slog.Logger
}

// NewSESNormalizer creates an SES normalizer
func NewSESNormalizer(logger *slog.Logger) *SESNormalizer {
	return &SESNormalizer{logger: logger.With("component", "ingest.ses")}
}

func (n *SESNormalizer) Name() string { return ProviderSES }

// Normalize unwraps the SNS envelope. Subscription confirmations are logged
// and acknowledged without being confirmed.
func (n *SESNormalizer) Normalize(header http.Header, body []byte) (*campaign.ProviderEvent, error) {
	var env snsMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid("malformed sns envelope: %v", err)
	}

	switch env.Type {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		n.logger.Warn("sns subscription message received, confirm it manually",
			"type", env.Type,
			"topic_arn", env.TopicArn,
			"subscribe_url", env.SubscribeURL,
		)
		return nil, nil
	case "Notification":
	default:
		return nil, invalid("unsupported sns message type %q", env.Type)
	}

	var ev sesEvent
	if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
		return nil, invalid("malformed ses event: %v", err)
	}
	raw := ev.EventType
	if raw == "" {
		raw = ev.NotificationType
	}
	if raw == "" || ev.Mail.MessageID == "" {
		return nil, invalid("ses event requires eventType and mail.messageId")
	}

	meta := map[string]any{
		"ses_event":  raw,
		"message_id": ev.Mail.MessageID,
	}
	occurred := parseTime(env.Timestamp)
	switch {
	case ev.Click != nil:
		occurred = pick(occurred, ev.Click.Timestamp)
		if ev.Click.Link != "" {
			meta["link"] = ev.Click.Link
		}
	case ev.Delivery != nil:
		occurred = pick(occurred, ev.Delivery.Timestamp)
	case ev.Open != nil:
		occurred = pick(occurred, ev.Open.Timestamp)
	case ev.Bounce != nil:
		occurred = pick(occurred, ev.Bounce.Timestamp)
		meta["bounce_type"] = ev.Bounce.BounceType
	case ev.Complaint != nil:
		occurred = pick(occurred, ev.Complaint.Timestamp)
	}

	return &campaign.ProviderEvent{
		Provider:      ProviderSES,
		CorrelationID: ev.Mail.MessageID,
		Type:          MapSESType(raw),
		RawType:       raw,
		ExternalID:    env.MessageID,
		OccurredAt:    occurred,
		Meta:          meta,
	}, nil
}

// MapSESType maps SES event types to canonical types
func MapSESType(t string) campaign.EventType {
	switch strings.ToLower(t) {
	case "send":
		return campaign.EventSent
	case "delivery":
		return campaign.EventDelivered
	case "open":
		return campaign.EventOpen
	case "click":
		return campaign.EventClick
	case "bounce", "complaint", "deliverydelay", "reject", "renderingfailure":
		return campaign.EventFailed
	default:
		return campaign.EventOther
	}
}

func pick(fallback time.Time, s string) time.Time {
	if t := parseTime(s); !t.IsZero() {
		return t
	}
	return fallback
}
