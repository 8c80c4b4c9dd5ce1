package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStripeAPIBaseURL is used when StripeConfig.APIBaseURL is empty.
const DefaultStripeAPIBaseURL = "https://api.stripe.com"

const (
	defaultStripeNetwork = "base"
	defaultStripeBody    = 64 * 1024
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StripeConfig holds the credentials for the Stripe crypto deposit integration.
type StripeConfig struct {
	SecretKey  string
	APIBaseURL string
	APIVersion string
}

// StripeOption customises a StripeClient.
type StripeOption func(*StripeClient)

// WithStripeHTTPClient overrides the HTTP client used to talk to Stripe.
func WithStripeHTTPClient(client HTTPClient) StripeOption {
	return func(c *StripeClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStripeBodyLimit adjusts how many bytes are read from a Stripe response.
func WithStripeBodyLimit(limit int64) StripeOption {
	return func(c *StripeClient) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// WithStripeLogger attaches a logger to the client.
func WithStripeLogger(logger zerolog.Logger) StripeOption {
	return func(c *StripeClient) {
		if !reflect.ValueOf(logger).IsZero() {
			c.logger = logger
		}
	}
}

// StripeClient mints one-time crypto deposit addresses through Stripe
// payment intents. Each call issues exactly one request; it never retries.
type StripeClient struct {
	logger       zerolog.Logger
	secretKey    string
	baseURL      string
	apiVersion   string
	httpClient   HTTPClient
	maxBodyBytes int64
}

// NewStripeClient constructs a StripeClient. The secret key is validated on
// each call so a misconfigured client fails closed at resolution time.
func NewStripeClient(cfg StripeConfig, opts ...StripeOption) *StripeClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultStripeAPIBaseURL
	}

	c := &StripeClient{
		logger:       zerolog.Nop(),
		secretKey:    strings.TrimSpace(cfg.SecretKey),
		baseURL:      baseURL,
		apiVersion:   strings.TrimSpace(cfg.APIVersion),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: defaultStripeBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CreatePayToAddress creates a confirmed crypto payment intent for the amount
// derived from payCtx and returns its Base deposit address.
func (c *StripeClient) CreatePayToAddress(ctx context.Context, payCtx PayToContext) (string, error) {
	if c.secretKey == "" {
		return "", errors.New("stripe: secret key is required")
	}

	units := SettlementBaseUnits(payCtx)
	cents := CentsFromBaseUnits(units)

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(cents, 10))
	form.Set("currency", "usd")
	form.Add("payment_method_types[]", "crypto")
	form.Set("payment_method_data[type]", "crypto")
	form.Set("payment_method_options[crypto][mode]", "custom")
	form.Set("confirm", "true")

	endpoint := c.baseURL + "/v1/payment_intents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("stripe: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("Stripe-Version", c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return "", err
	}

	parsed := parseStripeBody(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return "", errors.New(parsed.Error.Message)
		}
		return "", fmt.Errorf("stripe request failed with status %d", resp.StatusCode)
	}

	address := parsed.depositAddress(defaultStripeNetwork)
	if address == "" {
		return "", errors.New("stripe: payment intent did not include a base deposit address")
	}

	c.logger.Debug().
		Str("payment_intent", parsed.ID).
		Int64("amount_cents", cents).
		Msg("stripe deposit address created")
	return address, nil
}

func (c *StripeClient) readBody(rc io.ReadCloser) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(rc, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("stripe: read body: %w", err)
	}
	return data, nil
}

type stripeDepositAddress struct {
	Address string `json:"address"`
}

type stripeIntent struct {
	ID         string `json:"id"`
	NextAction *struct {
		CryptoCollectDepositDetails *struct {
			DepositAddresses map[string]stripeDepositAddress `json:"deposit_addresses"`
		} `json:"crypto_collect_deposit_details"`
	} `json:"next_action"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseStripeBody(body []byte) stripeIntent {
	var parsed stripeIntent
	if len(body) == 0 {
		return parsed
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return stripeIntent{}
	}
	return parsed
}

func (i stripeIntent) depositAddress(network string) string {
	if i.NextAction == nil || i.NextAction.CryptoCollectDepositDetails == nil {
		return ""
	}
	entry, ok := i.NextAction.CryptoCollectDepositDetails.DepositAddresses[network]
	if !ok {
		return ""
	}
	return strings.TrimSpace(entry.Address)
}
