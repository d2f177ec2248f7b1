package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider places outbound calls through the Twilio Calls API.
//
// The tracking token is carried on the status callback URL so the
// provider echoes it back with the outcome event.
type TwilioProvider struct {
	accountSID  string
	authToken   string
	callbackURL string

	httpClient *http.Client
	apiBase    string
}

func NewTwilioProvider(accountSID, authToken, callbackURL string) *TwilioProvider {
	return &TwilioProvider{
		accountSID:  accountSID,
		authToken:   authToken,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		apiBase:     twilioAPIBase,
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if p.accountSID == "" || p.authToken == "" {
		return errors.New("telephony: twilio credentials not configured")
	}
	return nil
}

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

func (p *TwilioProvider) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if req.To == "" || req.From == "" || req.TrackingToken == "" {
		return PlaceResult{}, errors.New("telephony: to, from and tracking_token are required")
	}

	cb, err := url.Parse(p.callbackURL)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("telephony: bad callback url: %w", err)
	}
	q := cb.Query()
	q.Set("token", req.TrackingToken)
	if req.AgentRef != "" {
		q.Set("agent", req.AgentRef)
	}
	cb.RawQuery = q.Encode()

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", cb.String())

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.apiBase, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return PlaceResult{}, err
	}
	httpReq.SetBasicAuth(p.accountSID, p.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("telephony: twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return PlaceResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PlaceResult{Accepted: false},
			fmt.Errorf("telephony: twilio returned %d: %s", resp.StatusCode, string(body))
	}

	var tr twilioCallResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return PlaceResult{}, fmt.Errorf("telephony: bad twilio response: %w", err)
	}
	return PlaceResult{Accepted: true, ProviderCallID: tr.Sid}, nil
}
