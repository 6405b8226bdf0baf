package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"clinicrooms/internal/domain"

	"github.com/rs/zerolog"
)

const ProviderStripe = "stripe"

// StripeClient talks to the Stripe PaymentIntents REST API.
type StripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ domain.PaymentProvider = (*StripeClient)(nil)

func NewStripeClient(secretKey, baseURL string, timeout time.Duration, logger *zerolog.Logger) *StripeClient {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: "2024-06-20",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "stripe").Logger(),
	}
}

func (c *StripeClient) Name() string { return ProviderStripe }

type stripeIntent struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	ClientSecret     string            `json:"client_secret"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

func (si *stripeIntent) toIntent() *domain.Intent {
	in := &domain.Intent{
		ID:           si.ID,
		ClientSecret: si.ClientSecret,
		Status:       si.Status,
		AmountCents:  si.Amount,
		Currency:     si.Currency,
		Metadata:     si.Metadata,
	}
	if si.AmountReceived > 0 {
		in.AmountCents = si.AmountReceived
	}
	if e := si.LastPaymentError; e != nil {
		in.FailureCode = e.Code
		if e.DeclineCode != "" {
			in.FailureCode = e.DeclineCode
		}
		in.FailureMessage = e.Message
	}
	return in
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", req.Metadata[k])
	}

	var out stripeIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return nil, &domain.ProviderError{Op: "create_intent", Err: err, Retriable: retriable(err)}
	}
	c.logger.Info().Str("payment_intent_id", out.ID).Int64("amount", req.AmountCents).Msg("Payment intent created")
	return out.toIntent(), nil
}

func (c *StripeClient) RetrieveIntent(ctx context.Context, id string) (*domain.Intent, error) {
	if id == "" {
		return nil, &domain.ProviderError{Op: "retrieve_intent", Err: errors.New("empty intent id")}
	}
	var out stripeIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, &domain.ProviderError{Op: "retrieve_intent", Err: err, Retriable: retriable(err)}
	}
	return out.toIntent(), nil
}

// apiError is a non-2xx Stripe response.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe api status %d: %s", e.Status, e.Message)
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, idemKey string, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", c.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("stripe read: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		ae := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb stripeErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			ae.Code = eb.Error.Code
			ae.Message = eb.Error.Message
		}
		return ae
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stripe decode: %w", err)
	}
	return nil
}

// retriable treats timeouts, transport failures, 429 and 5xx as transient.
func retriable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusTooManyRequests || ae.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
