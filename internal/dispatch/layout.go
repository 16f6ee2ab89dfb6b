package dispatch

import (
	"fmt"

	"github.com/osteele/liquid"

	"github.com/foxzi/leadcast/internal/campaign"
)

const emailLayout = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background-color: #f9f9f9;">
<div style="background-color: white; padding: 30px; border-radius: 8px;">
<p style="font-size: 16px; color: #333; margin-bottom: 15px;">{{ body.greeting | default: "Hello there," | escape }}</p>
<p style="font-size: 15px; color: #555; line-height: 1.6; margin-bottom: 15px;">{{ body.body_paragraph_1 | default: "We have something special for you." | escape }}</p>
{% if body.body_paragraph_2 != "" %}<p style="font-size: 15px; color: #555; line-height: 1.6; margin-bottom: 20px;">{{ body.body_paragraph_2 | escape }}</p>{% endif %}
<div style="text-align: center; margin: 30px 0;"><a href="{{ tracking_url | escape }}" style="background: #667eea; color: white; padding: 14px 32px; text-decoration: none; border-radius: 6px; display: inline-block; font-weight: 600;">{{ body.call_to_action | default: "Learn More" | escape }}</a></div>
<p style="font-size: 14px; color: #777; font-style: italic; margin-top: 20px;">{{ body.closing | default: "Your health matters to us." | escape }}</p>
<div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee;">
<p style="font-size: 14px; color: #999; margin: 5px 0;">Best regards,</p>
<p style="font-size: 14px; color: #999; margin: 5px 0; font-weight: 600;">{{ signature | escape }}</p>
</div>
</div>
<div style="text-align: center; margin-top: 20px;"><p style="font-size: 12px; color: #999;">{% if ai_generated %}Personalized with AI{% else %}Crafted for you{% endif %}</p></div>
</div>`

// Layout renders a structured body into the campaign HTML email.
type Layout struct {
	tpl       *liquid.Template
	signature string
}

// NewLayout parses the email layout. signature is the sender line under
// "Best regards".
func NewLayout(signature string) (*Layout, error) {
	if signature == "" {
		signature = "The PreventIQ Team"
	}
	tpl, err := liquid.NewEngine().ParseString(emailLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email layout: %w", err)
	}
	return &Layout{tpl: tpl, signature: signature}, nil
}

// Render produces the HTML for body with the call to action pointing at trackingURL.
func (l *Layout) Render(body campaign.Body, trackingURL string, aiGenerated bool) (string, error) {
	out, err := l.tpl.RenderString(map[string]any{
		"body": map[string]any{
			"greeting":         body.Greeting,
			"body_paragraph_1": body.Paragraph1,
			"body_paragraph_2": body.Paragraph2,
			"call_to_action":   body.CallToAction,
			"closing":          body.Closing,
		},
		"tracking_url": trackingURL,
		"signature":    l.signature,
		"ai_generated": aiGenerated,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return out, nil
}
