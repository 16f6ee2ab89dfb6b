package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

// svix headers used by Resend webhooks
const (
	headerSvixID        = "svix-id"
	headerSvixTimestamp = "svix-timestamp"
	headerSvixSignature = "svix-signature"

	signatureTolerance = 5 * time.Minute
)

type resendEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		Click   *struct {
			Link      string `json:"link"`
			Timestamp string `json:"timestamp"`
		} `json:"click,omitempty"`
	} `json:"data"`
}

// ResendNormalizer parses Resend webhook deliveries
type ResendNormalizer struct {
	secret []byte
	now    func() time.Time
}

// NewResendNormalizer creates a Resend normalizer. With an empty secret
// signatures are not checked. The secret may carry the "whsec_" prefix.
func NewResendNormalizer(secret string) (*ResendNormalizer, error) {
	n := &ResendNormalizer{now: time.Now}
	if secret == "" {
		return n, nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode resend webhook secret: %w", err)
	}
	n.secret = key
	return n, nil
}

func (n *ResendNormalizer) Name() string { return ProviderResend }

// Normalize verifies the signature when configured and maps the event
func (n *ResendNormalizer) Normalize(header http.Header, body []byte) (*campaign.ProviderEvent, error) {
	if n.secret != nil {
		if err := n.verify(header, body); err != nil {
			return nil, err
		}
	}

	var ev resendEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, invalid("malformed resend payload: %v", err)
	}
	if ev.Type == "" || ev.Data.EmailID == "" {
		return nil, invalid("resend event requires type and data.email_id")
	}

	occurred := parseTime(ev.CreatedAt)
	if ev.Data.Click != nil {
		if t := parseTime(ev.Data.Click.Timestamp); !t.IsZero() {
			occurred = t
		}
	}

	meta := map[string]any{
		"resend_event": ev.Type,
		"email_id":     ev.Data.EmailID,
	}
	if len(ev.Data.To) > 0 {
		meta["to"] = ev.Data.To[0]
	}
	if ev.Data.Click != nil && ev.Data.Click.Link != "" {
		meta["link"] = ev.Data.Click.Link
	}

	externalID := header.Get(headerSvixID)
	if externalID == "" {
		// Without a delivery id, identical payloads are the same event.
		sum := sha256.Sum256(body)
		externalID = "sha256:" + hex.EncodeToString(sum[:])
	}

	return &campaign.ProviderEvent{
		Provider:      ProviderResend,
		CorrelationID: ev.Data.EmailID,
		Type:          MapResendType(ev.Type),
		RawType:       ev.Type,
		ExternalID:    externalID,
		OccurredAt:    occurred,
		Meta:          meta,
	}, nil
}

// MapResendType maps Resend event names to canonical types
func MapResendType(t string) campaign.EventType {
	switch t {
	case "email.sent":
		return campaign.EventSent
	case "email.delivered":
		return campaign.EventDelivered
	case "email.opened":
		return campaign.EventOpen
	case "email.clicked":
		return campaign.EventClick
	case "email.bounced", "email.complained", "email.delivery_delayed":
		return campaign.EventFailed
	default:
		return campaign.EventOther
	}
}

// verify checks a svix signature: base64 HMAC-SHA256 over "id.timestamp.body",
// any of the space separated "v1,<sig>" entries may match.
func (n *ResendNormalizer) verify(header http.Header, body []byte) error {
	id := header.Get(headerSvixID)
	ts := header.Get(headerSvixTimestamp)
	sigs := header.Get(headerSvixSignature)
	if id == "" || ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing svix headers", ErrInvalidSignature)
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if d := n.now().Sub(time.Unix(sec, 0)); d > signatureTolerance || d < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
