package campaign

// Body is the structured email body produced by a content generator or a
// static template.
type Body struct {
	Greeting     string `json:"greeting"`
	Paragraph1   string `json:"body_paragraph_1"`
	Paragraph2   string `json:"body_paragraph_2"`
	CallToAction string `json:"call_to_action"`
	Closing      string `json:"closing"`
}

// BodyRequest carries the inputs for body generation.
type BodyRequest struct {
	PersonaID PersonaID
	LeadName  string
	Language  string
	Subject   string
}
