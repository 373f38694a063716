package catalog

import (
	"fmt"
	"time"
)

/*
The per-endpoint catalog is the public face of a registry bucket: a single
catalog.json object at the bucket root listing every dataset the bucket
hosts. Federation peers discover datasets by reading it, so it is rewritten
wholesale and never patched in place.
*/

// CloudMeVersion is the catalog format version advertised to federation peers.
const CloudMeVersion = "0.3"

// Status codes for a published endpoint.
const (
	StatusOK          = "1200/OK"
	StatusUnavailable = "1400/temporarily unavailable"
	StatusUserPays    = "1600/user pays"
)

// Egress describes an endpoint's data transfer policy.
type Egress string

const (
	EgressNone     Egress = "none"
	EgressNo       Egress = "no-egress"
	EgressUserPays Egress = "user-pays"
	EgressAllowed  Egress = "egress-allowed"
)

func ParseEgress(s string) (Egress, error) {
	switch Egress(s) {
	case EgressNone, EgressNo, EgressUserPays, EgressAllowed:
		return Egress(s), nil
	case "":
		return EgressNone, nil
	}
	return "", &ValidationError{Field: "egress", Reason: fmt.Sprintf("unknown egress policy %q", s)}
}

// Catalog is the published per-endpoint document.
type Catalog struct {
	CloudMe     string           `json:"CloudMe"`
	Endpoint    string           `json:"endpoint"`
	Name        string           `json:"name"`
	Region      string           `json:"region,omitempty"`
	Contact     string           `json:"contact,omitempty"`
	Description string           `json:"description,omitempty"`
	Citation    string           `json:"citation,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	Egress      Egress           `json:"egress"`
	Status      Status           `json:"status"`
	Catalog     []map[string]any `json:"catalog"`
}

// Status carries the coded availability of an endpoint.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusFromString splits a "code/message" status tag, defaulting to OK.
func StatusFromString(s string) (Status, error) {
	if s == "" {
		s = StatusOK
	}
	var code int
	if _, err := fmt.Sscanf(s, "%d/", &code); err != nil {
		return Status{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("malformed status %q", s)}
	}
	var msg string
	for i, r := range s {
		if r == '/' {
			msg = s[i+1:]
			break
		}
	}
	switch code {
	case 1200, 1400, 1600:
	default:
		return Status{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status code %d", code)}
	}
	return Status{Code: code, Message: msg}, nil
}

// RegistryEntry names one federation endpoint.
type RegistryEntry struct {
	Endpoint string `json:"endpoint"`
	Name     string `json:"name"`
	Region   string `json:"region,omitempty"`
}

// Registry is the root document listing all federation endpoints.
type Registry struct {
	CloudMe      string          `json:"CloudMe"`
	Modification string          `json:"modification"`
	Entries      []RegistryEntry `json:"registry"`
}

// NewRegistry stamps a root registry document at now.
func NewRegistry(entries []RegistryEntry, now time.Time) *Registry {
	return &Registry{
		CloudMe:      CloudMeVersion,
		Modification: FormatTime(now),
		Entries:      entries,
	}
}
