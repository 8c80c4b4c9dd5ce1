package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
	"github.com/daydreamsai/lucid-agents-sub001/internal/store"
)

// Config captures all runtime configuration for the agent service.
type Config struct {
	App      AppConfig
	Agent    AgentConfig
	Payments PaymentsConfig
	XMPT     XMPTConfig
	A2A      A2AConfig
	Store    StoreConfig
	Kafka    KafkaConfig
	Inbox    InboxConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// AgentConfig describes the identity published on the agent card.
type AgentConfig struct {
	Name        string
	URL         string
	Description string
	Version     string
}

// PaymentsConfig holds the flat payment settings. Use Config.PaymentsMode to
// get the resolver configuration.
type PaymentsConfig struct {
	PayTo           string
	StripeKey       string
	StripeBaseURL   string
	StripeVersion   string
	Network         string
	DefaultPrice    string
	MaxPayments     int
	RateLimitWindow time.Duration
}

// XMPTConfig controls the messaging runtime.
type XMPTConfig struct {
	InboxKey            string
	DefaultInboxSkillID string
	WaitTimeout         time.Duration
	AutoReply           bool
}

// A2AConfig tunes the outbound A2A client.
type A2AConfig struct {
	HTTPTimeout  time.Duration
	PollInterval time.Duration
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Backend string
	DSN     string
}

// KafkaConfig defines broker information and topics. An empty broker list
// disables Kafka entirely.
type KafkaConfig struct {
	Brokers         []string
	MessageLogTopic string
	InboxTopic      string
	InboxDLQTopic   string
	ConsumerGroup   string
}

// Enabled reports whether brokers were configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// InboxConfig controls the Kafka inbox worker.
type InboxConfig struct {
	Concurrency         int
	MaxAttempts         int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	MsgMaxBytes         int
	CommitOnSuccessOnly bool
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Agent.Name = ldr.getString("AGENT_NAME", "", true)
	cfg.Agent.URL = ldr.getString("AGENT_URL", fmt.Sprintf("http://localhost:%d", cfg.App.Port), false)
	cfg.Agent.Description = ldr.getString("AGENT_DESCRIPTION", "", false)
	cfg.Agent.Version = ldr.getString("AGENT_VERSION", "0.1.0", false)

	cfg.Payments.PayTo = ldr.getString("PAYMENTS_PAY_TO", "", false)
	cfg.Payments.StripeKey = ldr.getString("STRIPE_SECRET_KEY", "", false)
	cfg.Payments.StripeBaseURL = ldr.getString("STRIPE_API_BASE_URL", payments.DefaultStripeAPIBaseURL, false)
	cfg.Payments.StripeVersion = ldr.getString("STRIPE_API_VERSION", "", false)
	cfg.Payments.Network = ldr.getString("PAYMENTS_NETWORK", "base", false)
	cfg.Payments.DefaultPrice = ldr.getString("PAYMENTS_DEFAULT_PRICE", "", false)
	cfg.Payments.MaxPayments = ldr.getInt("RATE_LIMIT_MAX_PAYMENTS", 0, false)
	cfg.Payments.RateLimitWindow = ldr.getMillis("RATE_LIMIT_WINDOW_MS", 60000)
	if cfg.Payments.DefaultPrice != "" && cfg.Payments.PayTo == "" && cfg.Payments.StripeKey == "" {
		ldr.addError("PAYMENTS_DEFAULT_PRICE requires PAYMENTS_PAY_TO or STRIPE_SECRET_KEY")
	}

	cfg.XMPT.InboxKey = ldr.getString("XMPT_INBOX_KEY", "xmpt-inbox", false)
	cfg.XMPT.DefaultInboxSkillID = ldr.getString("XMPT_DEFAULT_INBOX_SKILL_ID", "", false)
	cfg.XMPT.WaitTimeout = ldr.getMillis("XMPT_WAIT_TIMEOUT_MS", 30000)
	cfg.XMPT.AutoReply = ldr.getBool("XMPT_AUTO_REPLY", false, false)

	cfg.A2A.HTTPTimeout = time.Duration(ldr.getInt("A2A_HTTP_TIMEOUT_SECONDS", 30, false)) * time.Second
	cfg.A2A.PollInterval = ldr.getMillis("A2A_POLL_INTERVAL_MS", 500)

	cfg.Store.Backend = strings.ToLower(ldr.getString("STORE_BACKEND", store.BackendMemory, false))
	cfg.Store.DSN = ldr.getString("STORE_DSN", "", false)
	switch cfg.Store.Backend {
	case store.BackendMemory:
	case store.BackendPostgres, store.BackendSQLite:
		if cfg.Store.DSN == "" {
			ldr.addError(fmt.Sprintf("STORE_DSN is required for %s backend", cfg.Store.Backend))
		}
	default:
		ldr.addError(fmt.Sprintf("STORE_BACKEND %q is not supported", cfg.Store.Backend))
	}

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.MessageLogTopic = ldr.getString("KAFKA_MESSAGE_LOG_TOPIC", "xmpt.messages", false)
	cfg.Kafka.InboxTopic = ldr.getString("KAFKA_INBOX_TOPIC", "", false)
	cfg.Kafka.InboxDLQTopic = ldr.getString("KAFKA_INBOX_DLQ_TOPIC", "xmpt.inbox.dlq", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", cfg.Agent.Name+"-xmpt", false)

	cfg.Inbox.Concurrency = ldr.getInt("INBOX_WORKER_CONCURRENCY", 10, false)
	cfg.Inbox.MaxAttempts = ldr.getInt("INBOX_MAX_ATTEMPTS", 3, false)
	cfg.Inbox.BaseBackoff = ldr.getMillis("INBOX_BASE_BACKOFF_MS", 200)
	cfg.Inbox.MaxBackoff = ldr.getMillis("INBOX_MAX_BACKOFF_MS", 5000)
	cfg.Inbox.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)
	cfg.Inbox.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)
	if cfg.Inbox.Concurrency < 1 {
		ldr.addError("INBOX_WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Inbox.MaxAttempts < 1 {
		ldr.addError("INBOX_MAX_ATTEMPTS must be >= 1")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// PaymentsMode converts the flat payment settings into the resolver
// configuration. A Stripe secret key selects dynamic mode.
func (c *Config) PaymentsMode() payments.Config {
	if c.Payments.StripeKey != "" {
		return payments.StripeMode{Stripe: payments.StripeConfig{
			SecretKey:  c.Payments.StripeKey,
			APIBaseURL: c.Payments.StripeBaseURL,
			APIVersion: c.Payments.StripeVersion,
		}}
	}
	return payments.StaticMode{PayTo: c.Payments.PayTo}
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getMillis(key string, def int) time.Duration {
	ms := l.getInt(key, def, false)
	if ms < 0 {
		l.addError(fmt.Sprintf("%s cannot be negative", key))
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
