package payments_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
)

const headerJSON = `{"x402Version":1,"scheme":"exact","network":"base","payload":{"signature":"0xsig","authorization":{"from":"0xpayer","to":"0xmerchant","value":"1000"}}}`

type minterStub struct {
	calls   atomic.Int32
	address string
	err     error
	last    payments.PayToContext
}

func (m *minterStub) CreatePayToAddress(_ context.Context, payCtx payments.PayToContext) (string, error) {
	m.calls.Add(1)
	m.last = payCtx
	return m.address, m.err
}

func TestExtractPayTo(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "raw json", header: headerJSON, want: "0xmerchant", wantOK: true},
		{name: "base64 json", header: base64.StdEncoding.EncodeToString([]byte(headerJSON)), want: "0xmerchant", wantOK: true},
		{name: "base64url json", header: base64.RawURLEncoding.EncodeToString([]byte(headerJSON)), want: "0xmerchant", wantOK: true},
		{name: "empty", header: "", wantOK: false},
		{name: "garbage", header: "not a payment header", wantOK: false},
		{name: "missing to", header: `{"payload":{"authorization":{"from":"0xpayer"}}}`, wantOK: false},
		{name: "empty to", header: `{"payload":{"authorization":{"to":""}}}`, wantOK: false},
		{name: "non-string to", header: `{"payload":{"authorization":{"to":42}}}`, wantOK: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := payments.ExtractPayTo(tc.header)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("payTo = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolvePayToStatic(t *testing.T) {
	payTo, err := payments.ResolvePayTo(payments.StaticMode{PayTo: "0xstatic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payTo.IsDynamic() {
		t.Fatalf("static config must not yield a dynamic resolver")
	}
	addr, ok := payTo.Static()
	if !ok || addr != "0xstatic" {
		t.Fatalf("Static() = %q, %v", addr, ok)
	}

	got, err := payTo.Resolve(context.Background(), payments.PayToContext{PaymentHeader: "garbage"})
	if err != nil || got != "0xstatic" {
		t.Fatalf("Resolve() = %q, %v", got, err)
	}
}

func TestResolvePayToRequiresConfig(t *testing.T) {
	if _, err := payments.ResolvePayTo(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var stripe *payments.StripeMode
	if _, err := payments.ResolvePayTo(stripe); err == nil {
		t.Fatalf("expected error for nil stripe config")
	}
}

func TestDynamicPayToUsesHeaderWithoutNetwork(t *testing.T) {
	minter := &minterStub{address: "0xminted"}
	payTo, err := payments.ResolvePayTo(payments.StripeMode{Stripe: payments.StripeConfig{SecretKey: "sk_test"}}, payments.WithAddressMinter(minter))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payTo.IsDynamic() {
		t.Fatalf("expected dynamic resolver")
	}
	if _, ok := payTo.Static(); ok {
		t.Fatalf("dynamic resolver must not report a static address")
	}

	got, err := payTo.Resolve(context.Background(), payments.PayToContext{PaymentHeader: headerJSON})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xmerchant" {
		t.Fatalf("payTo = %q, want 0xmerchant", got)
	}
	if minter.calls.Load() != 0 {
		t.Fatalf("expected no minting when header carries a destination")
	}
}

func TestDynamicPayToFailsClosedOnBadHeader(t *testing.T) {
	minter := &minterStub{address: "0xminted"}
	payTo, _ := payments.ResolvePayTo(payments.StripeMode{Stripe: payments.StripeConfig{SecretKey: "sk_test"}}, payments.WithAddressMinter(minter))

	for _, header := range []string{"%%%not-json%%%", `{"payload":{}}`, "   "} {
		_, err := payTo.Resolve(context.Background(), payments.PayToContext{PaymentHeader: header})
		if err == nil {
			t.Fatalf("expected error for header %q", header)
		}
		if !strings.Contains(err.Error(), "Unable to extract payTo from payment header") {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(err, payments.ErrUnextractablePayTo) {
			t.Fatalf("expected ErrUnextractablePayTo, got %v", err)
		}
	}
	if minter.calls.Load() != 0 {
		t.Fatalf("bad header must never fall through to minting")
	}
}

func TestDynamicPayToMintsWithoutHeader(t *testing.T) {
	minter := &minterStub{address: "0xminted"}
	payTo, _ := payments.ResolvePayTo(payments.StripeMode{}, payments.WithAddressMinter(minter))

	got, err := payTo.Resolve(context.Background(), payments.PayToContext{Price: "$0.50"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xminted" {
		t.Fatalf("payTo = %q, want 0xminted", got)
	}
	if minter.last.Price != "$0.50" {
		t.Fatalf("expected price to be forwarded, got %v", minter.last.Price)
	}
}

func TestDynamicPayToWrapsMintFailure(t *testing.T) {
	inner := errors.New("card_declined")
	minter := &minterStub{err: inner}
	payTo, _ := payments.ResolvePayTo(payments.StripeMode{}, payments.WithAddressMinter(minter))

	_, err := payTo.Resolve(context.Background(), payments.PayToContext{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "Stripe payTo resolution failed: card_declined" {
		t.Fatalf("unexpected message: %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected inner error to be wrapped")
	}
}

func TestDynamicPayToMissingSecretKeyFailsWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	payTo, _ := payments.ResolvePayTo(payments.StripeMode{Stripe: payments.StripeConfig{SecretKey: "   ", APIBaseURL: srv.URL}})
	_, err := payTo.Resolve(context.Background(), payments.PayToContext{})
	if err == nil || !strings.HasPrefix(err.Error(), "Stripe payTo resolution failed:") {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request without a secret key")
	}
}

func TestStripeClientCreatesPaymentIntent(t *testing.T) {
	var form url.Values
	var auth, version, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		version = r.Header.Get("Stripe-Version")
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pi_123",
			"next_action": map[string]any{
				"crypto_collect_deposit_details": map[string]any{
					"deposit_addresses": map[string]any{
						"base": map[string]any{"address": "0xdeposit"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client := payments.NewStripeClient(payments.StripeConfig{
		SecretKey:  "sk_test_123",
		APIBaseURL: srv.URL + "/",
		APIVersion: "2025-01-01",
	})

	addr, err := client.CreatePayToAddress(context.Background(), payments.PayToContext{Amount: 1_000_000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0xdeposit" {
		t.Fatalf("address = %q", addr)
	}
	if path != "/v1/payment_intents" {
		t.Fatalf("path = %q", path)
	}
	if auth != "Bearer sk_test_123" {
		t.Fatalf("authorization = %q", auth)
	}
	if version != "2025-01-01" {
		t.Fatalf("stripe version = %q", version)
	}

	want := map[string]string{
		"amount":                               "100",
		"currency":                             "usd",
		"payment_method_types[]":               "crypto",
		"payment_method_data[type]":            "crypto",
		"payment_method_options[crypto][mode]": "custom",
		"confirm":                              "true",
	}
	for key, value := range want {
		if got := form.Get(key); got != value {
			t.Fatalf("form[%s] = %q, want %q", key, got, value)
		}
	}
}

func TestStripeClientErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "processor message", status: http.StatusBadRequest, body: `{"error":{"message":"Invalid API Key provided"}}`, wantErr: "Invalid API Key provided"},
		{name: "generic status", status: http.StatusInternalServerError, body: `oops`, wantErr: "stripe request failed with status 500"},
		{name: "missing deposit address", status: http.StatusOK, body: `{"id":"pi_1","next_action":{"crypto_collect_deposit_details":{"deposit_addresses":{"solana":{"address":"abc"}}}}}`, wantErr: "did not include a base deposit address"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := payments.NewStripeClient(payments.StripeConfig{SecretKey: "sk", APIBaseURL: srv.URL})
			_, err := client.CreatePayToAddress(context.Background(), payments.PayToContext{})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
			if hits.Load() != 1 {
				t.Fatalf("expected exactly one request, got %d", hits.Load())
			}
		})
	}
}
