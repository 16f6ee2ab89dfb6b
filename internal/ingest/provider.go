package ingest

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/foxzi/leadcast/internal/campaign"
)

// Provider names
const (
	ProviderResend   = "resend"
	ProviderSES      = "ses"
	ProviderTracking = "tracking"
)

// Normalizer turns one provider webhook request into a canonical event.
// A nil event with a nil error means the request was acknowledged but
// carries nothing to apply (for example an SNS subscription handshake).
type Normalizer interface {
	Name() string
	Normalize(header http.Header, body []byte) (*campaign.ProviderEvent, error)
}

// Registry holds the enabled webhook normalizers by provider name
type Registry struct {
	normalizers map[string]Normalizer
}

// NewRegistry creates a registry of normalizers
func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[string]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.normalizers[n.Name()] = n
	}
	return r
}

// Get returns the normalizer for a provider
func (r *Registry) Get(provider string) (Normalizer, bool) {
	n, ok := r.normalizers[provider]
	return n, ok
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
