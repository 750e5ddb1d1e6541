package hook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/channelgate/channelgate/internal/lifecycle"
)

// Event is a provider notification normalized out of whichever payload
// variant the provider sent.
type Event struct {
	PaymentRef string
	Outcome    lifecycle.Outcome
	// Variant names the payload schema that matched, for logging.
	Variant string
}

// The provider has shipped two incompatible webhook envelopes over time.
// Both remain in the wild, so both are parsed: the older one keyed on a
// bare status field, the newer one on an eventType. The older shape is
// tried first.
type payloadV1 struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type payloadV2 struct {
	EventType  string `json:"eventType"`
	Status     string `json:"status"`
	ContractID string `json:"contractId"`
	Buyer      struct {
		Email string `json:"email"`
	} `json:"buyer"`
}

// parseEvent decodes the raw webhook body into a normalized Event.
// Unknown or incomplete shapes return ErrMalformedPayload.
func parseEvent(body []byte) (Event, error) {
	var v1 payloadV1
	if err := json.Unmarshal(body, &v1); err == nil && v1.ID != "" && v1.Status != "" {
		outcome, ok := outcomeFromStatus(v1.Status)
		if ok {
			return Event{PaymentRef: v1.ID, Outcome: outcome, Variant: "v1"}, nil
		}
	}

	var v2 payloadV2
	if err := json.Unmarshal(body, &v2); err == nil && v2.EventType != "" && v2.ContractID != "" {
		var outcome lifecycle.Outcome
		switch v2.EventType {
		case "payment.success":
			outcome = lifecycle.OutcomeSucceeded
		case "payment.failed":
			outcome = lifecycle.OutcomeFailed
		default:
			return Event{}, fmt.Errorf("%w: unrecognized event type %q", ErrMalformedPayload, v2.EventType)
		}
		return Event{PaymentRef: v2.ContractID, Outcome: outcome, Variant: "v2"}, nil
	}

	return Event{}, fmt.Errorf("%w: no known payload shape matched", ErrMalformedPayload)
}

func outcomeFromStatus(status string) (lifecycle.Outcome, bool) {
	switch strings.ToUpper(status) {
	case "PAID":
		return lifecycle.OutcomeSucceeded, true
	case "CANCELED", "EXPIRED":
		return lifecycle.OutcomeFailed, true
	default:
		return "", false
	}
}
