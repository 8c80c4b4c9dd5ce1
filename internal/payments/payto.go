package payments

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnextractablePayTo is returned when a payment header is present but no
// destination can be read from it. The resolver never falls back to minting a
// fresh address in that case.
var ErrUnextractablePayTo = errors.New("Unable to extract payTo from payment header")

// Config selects how payment destinations are resolved. It is implemented by
// StaticMode and StripeMode only.
type Config interface {
	paymentsMode() string
}

// StaticMode pays every request to a fixed address.
type StaticMode struct {
	PayTo string
}

func (StaticMode) paymentsMode() string { return "static" }

// StripeMode mints a deposit address per request through Stripe.
type StripeMode struct {
	Stripe StripeConfig
}

func (StripeMode) paymentsMode() string { return "stripe" }

// PayToContext is the per-request bag handed to a dynamic resolver.
type PayToContext struct {
	PaymentHeader     string
	Price             any
	Amount            any
	MaxAmountRequired any
	Extra             map[string]any
}

// AddressMinter creates a settlement address for a request.
type AddressMinter interface {
	CreatePayToAddress(ctx context.Context, payCtx PayToContext) (string, error)
}

// PayTo is a resolved destination strategy: either a static address or a
// per-request resolver.
type PayTo struct {
	static  string
	minter  AddressMinter
	dynamic bool
}

// Static returns the configured address when the strategy is static.
func (p PayTo) Static() (string, bool) {
	if p.dynamic {
		return "", false
	}
	return p.static, true
}

// IsDynamic reports whether Resolve performs per-request work.
func (p PayTo) IsDynamic() bool { return p.dynamic }

// Mode names the strategy for logs and metrics.
func (p PayTo) Mode() string {
	if p.dynamic {
		return StripeMode{}.paymentsMode()
	}
	return StaticMode{}.paymentsMode()
}

// Resolve returns the destination for a request. Static strategies ignore the
// context. Dynamic strategies prefer the address already authorized in the
// payment header and only mint a new one when no header was sent.
func (p PayTo) Resolve(ctx context.Context, payCtx PayToContext) (string, error) {
	if !p.dynamic {
		return p.static, nil
	}

	if payCtx.PaymentHeader != "" {
		to, ok := ExtractPayTo(payCtx.PaymentHeader)
		if !ok {
			return "", ErrUnextractablePayTo
		}
		return to, nil
	}

	address, err := p.minter.CreatePayToAddress(ctx, payCtx)
	if err != nil {
		return "", fmt.Errorf("Stripe payTo resolution failed: %w", err)
	}
	return address, nil
}

// ResolveOption customises ResolvePayTo.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	minter       AddressMinter
	stripeClient []StripeOption
}

// WithAddressMinter replaces the Stripe client used in dynamic mode.
func WithAddressMinter(m AddressMinter) ResolveOption {
	return func(o *resolveOptions) {
		if m != nil {
			o.minter = m
		}
	}
}

// WithStripeOptions forwards options to the Stripe client built for dynamic mode.
func WithStripeOptions(opts ...StripeOption) ResolveOption {
	return func(o *resolveOptions) {
		o.stripeClient = append(o.stripeClient, opts...)
	}
}

// ResolvePayTo builds the destination strategy for cfg.
func ResolvePayTo(cfg Config, opts ...ResolveOption) (PayTo, error) {
	settings := &resolveOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	switch mode := cfg.(type) {
	case StaticMode:
		return PayTo{static: mode.PayTo}, nil
	case *StaticMode:
		if mode == nil {
			return PayTo{}, errors.New("payments: config is required")
		}
		return PayTo{static: mode.PayTo}, nil
	case StripeMode:
		return dynamicPayTo(mode.Stripe, settings), nil
	case *StripeMode:
		if mode == nil {
			return PayTo{}, errors.New("payments: config is required")
		}
		return dynamicPayTo(mode.Stripe, settings), nil
	case nil:
		return PayTo{}, errors.New("payments: config is required")
	default:
		return PayTo{}, fmt.Errorf("payments: unsupported config %T", cfg)
	}
}

func dynamicPayTo(stripe StripeConfig, settings *resolveOptions) PayTo {
	minter := settings.minter
	if minter == nil {
		minter = NewStripeClient(stripe, settings.stripeClient...)
	}
	return PayTo{minter: minter, dynamic: true}
}
