package permissions

import "fmt"

// ResourceRequest is an application's ask for one resource, with an optional
// human readable justification.
type ResourceRequest struct {
	Resource Resource `json:"resource"`
	Reason   *string  `json:"reason,omitempty"`
}

func NewResourceRequest(resource Resource, reason *string) ResourceRequest {
	return ResourceRequest{Resource: resource, Reason: reason}
}

// Justified is NewResourceRequest with a reason.
func Justified(resource Resource, reason string) ResourceRequest {
	return ResourceRequest{Resource: resource, Reason: &reason}
}

func (r ResourceRequest) String() string {
	if r.Reason == nil {
		return r.Resource.String()
	}
	return fmt.Sprintf("%s (%s)", r.Resource, *r.Reason)
}

// RequestResult is the outcome of a request. There are no partial grants.
type RequestResult uint8

const (
	Granted RequestResult = iota
	Denied
)

func (r RequestResult) String() string {
	switch r {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("result(%d)", r)
	}
}

func (r RequestResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RequestResult) UnmarshalText(b []byte) error {
	switch string(b) {
	case "granted":
		*r = Granted
	case "denied":
		*r = Denied
	default:
		return fmt.Errorf("unknown request result %q", b)
	}
	return nil
}
