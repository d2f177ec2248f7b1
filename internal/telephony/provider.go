package telephony

import "context"

// Provider is the provider-agnostic outbound call placement capability.
//
// Placement is asynchronous: Accepted only means the provider took the
// call; the outcome arrives later through the reconciler's inbound
// event, correlated by the tracking token.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error
	Place(ctx context.Context, req PlaceRequest) (PlaceResult, error)
}

// PlaceRequest describes one outbound call attempt.
type PlaceRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// TrackingToken correlates this placement with its later outcome.
	TrackingToken string `json:"tracking_token"`

	// AgentRef identifies the voice agent handling the call.
	AgentRef string `json:"agent_ref,omitempty"`
}

type PlaceResult struct {
	Accepted       bool   `json:"accepted"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
}
