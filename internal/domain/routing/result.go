package routing

import (
	"time"

	"github.com/webitel/im-connect/internal/domain/model"
)

// Status is the structured outcome of a routing attempt. Routing failures
// are results, not errors: a single bad message never halts the router.
type Status string

const (
	StatusRouted               Status = "routed"
	StatusNoRouteFound         Status = "no_route_found"
	StatusValidationFailed     Status = "validation_failed"
	StatusTransformationFailed Status = "transformation_failed"
	StatusHandlerError         Status = "handler_error"
	StatusInvalid              Status = "invalid_message"
)

// Result describes one routing attempt. Message holds the possibly
// transformed message; Err carries the cause for failure statuses.
type Result struct {
	Status  Status
	Message *model.Message
	Err     error
	Elapsed time.Duration
}

// OK reports whether the message reached its handler.
func (r Result) OK() bool { return r.Status == StatusRouted }
