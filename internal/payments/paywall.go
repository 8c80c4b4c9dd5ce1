package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/metrics"
)

// PaymentHeader is the request header carrying the x402 payment payload.
const PaymentHeader = "X-PAYMENT"

const x402Version = 1

// Policy describes how a priced route is gated.
type Policy struct {
	// Group keys the rate limiter; routes sharing a group share a budget.
	Group       string
	Price       string
	Description string
	MaxPayments int
	Window      time.Duration
}

// PaymentRequirements is advertised in a 402 response.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

type paymentRequiredBody struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaywallOption customises a Paywall.
type PaywallOption func(*Paywall)

// WithPaywallNetwork sets the network advertised in payment requirements.
func WithPaywallNetwork(network string) PaywallOption {
	return func(p *Paywall) {
		if network = strings.TrimSpace(network); network != "" {
			p.network = network
		}
	}
}

// WithPaywallLogger attaches a logger to the paywall.
func WithPaywallLogger(logger zerolog.Logger) PaywallOption {
	return func(p *Paywall) {
		if !reflect.ValueOf(logger).IsZero() {
			p.logger = logger
		}
	}
}

// Paywall gates HTTP handlers behind an x402 payment. It resolves the
// destination through a PayTo strategy and enforces per-group rate limits.
// Signature verification and settlement belong to the facilitator.
type Paywall struct {
	payTo   PayTo
	limiter *RateLimiter
	network string
	logger  zerolog.Logger
}

// NewPaywall constructs a Paywall. A nil limiter disables rate limiting.
func NewPaywall(payTo PayTo, limiter *RateLimiter, opts ...PaywallOption) *Paywall {
	p := &Paywall{
		payTo:   payTo,
		limiter: limiter,
		network: defaultStripeNetwork,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With().Str("component", "paywall").Logger()
	return p
}

type payToContextKey struct{}

// PayToFromContext returns the destination resolved for a paid request.
func PayToFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(payToContextKey{}).(string)
	return v, ok && v != ""
}

// Middleware wraps next so it only runs for paid requests under policy.
func (p *Paywall) Middleware(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(PaymentHeader))
			payCtx := PayToContext{PaymentHeader: header, Price: policy.Price}

			if header == "" {
				p.requirePayment(w, r, policy, payCtx, "X-PAYMENT header is required")
				return
			}

			if p.limiter != nil && policy.MaxPayments > 0 {
				result := p.limiter.CheckLimit(policy.Group, policy.MaxPayments, policy.Window)
				if !result.Allowed {
					metrics.RateLimitRejectionsTotal.WithLabelValues(policy.Group).Inc()
					p.logger.Warn().
						Str("group", policy.Group).
						Str("path", r.URL.Path).
						Msg(result.Reason)
					respondPaywallJSON(w, http.StatusTooManyRequests, map[string]string{"error": result.Reason})
					return
				}
			}

			to, err := p.resolvePaid(r.Context(), payCtx)
			if err != nil {
				metrics.PayToResolutionsTotal.WithLabelValues(p.payTo.Mode(), "error").Inc()
				p.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("payment header rejected")
				p.requirePayment(w, r, policy, PayToContext{Price: policy.Price}, err.Error())
				return
			}
			metrics.PayToResolutionsTotal.WithLabelValues(p.payTo.Mode(), "ok").Inc()

			if p.limiter != nil {
				p.limiter.RecordPayment(policy.Group)
			}

			ctx := context.WithValue(r.Context(), payToContextKey{}, to)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePaid resolves the destination for a request carrying a payment
// header. A header that does not decode is rejected in every mode.
func (p *Paywall) resolvePaid(ctx context.Context, payCtx PayToContext) (string, error) {
	if !p.payTo.IsDynamic() {
		if _, ok := ExtractPayTo(payCtx.PaymentHeader); !ok {
			return "", ErrUnextractablePayTo
		}
	}
	return p.payTo.Resolve(ctx, payCtx)
}

func (p *Paywall) requirePayment(w http.ResponseWriter, r *http.Request, policy Policy, payCtx PayToContext, reason string) {
	to, err := p.payTo.Resolve(r.Context(), payCtx)
	if err != nil {
		metrics.PayToResolutionsTotal.WithLabelValues(p.payTo.Mode(), "error").Inc()
		p.logger.Error().Err(err).Str("path", r.URL.Path).Msg("failed to resolve payment destination")
		status := http.StatusBadGateway
		if errors.Is(err, ErrUnextractablePayTo) {
			status = http.StatusPaymentRequired
		}
		respondPaywallJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	metrics.PayToResolutionsTotal.WithLabelValues(p.payTo.Mode(), "ok").Inc()

	body := paymentRequiredBody{
		X402Version: x402Version,
		Error:       reason,
		Accepts: []PaymentRequirements{{
			Scheme:            "exact",
			Network:           p.network,
			MaxAmountRequired: strconv.FormatInt(SettlementBaseUnits(payCtx), 10),
			PayTo:             to,
			Resource:          r.URL.Path,
			Description:       policy.Description,
			MimeType:          "application/json",
			MaxTimeoutSeconds: 300,
		}},
	}
	respondPaywallJSON(w, http.StatusPaymentRequired, body)
}

// respondPaywallJSON writes paywall responses; payments does not depend on a2a.
func respondPaywallJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
