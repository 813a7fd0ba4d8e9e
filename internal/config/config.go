package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mailflow/internal/analysis"
	"mailflow/internal/calendar"
	"mailflow/internal/service"
	"mailflow/internal/workflow"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/config"
	"mailflow/pkg/otel"
)

// Transport orders accepted in notification.order.
const (
	OrderCarrierFirst = "carrier-first"
	OrderBotFirst     = "bot-first"
)

// ConfigurationError reports settings that prevent startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

type AIConfig struct {
	DefaultModel   string        `yaml:"default_model"`
	FallbackModels []string      `yaml:"fallback_models"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	Mode           string        `yaml:"mode"`
	OpenAIKey      string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	AnthropicKey   string        `yaml:"anthropic_api_key"`
	AnthropicBase  string        `yaml:"anthropic_base_url"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	BaseURL    string `yaml:"base_url"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
}

type NotificationConfig struct {
	// Order is carrier-first or bot-first; required when both kinds are configured.
	Order             string                  `yaml:"order"`
	Twilio            TwilioConfig            `yaml:"twilio"`
	CallMeBot         []service.CallMeBotPair `yaml:"callmebot"`
	CallMeBotEndpoint string                  `yaml:"callmebot_endpoint"`
	SMTP              SMTPConfig              `yaml:"smtp"`
	MailTo            string                  `yaml:"mail_to"`
	MailSubject       string                  `yaml:"mail_subject"`
	AttemptTimeout    time.Duration           `yaml:"attempt_timeout"`
	Breaker           BreakerConfig           `yaml:"breaker"`
}

type CalendarConfig struct {
	AccessToken string        `yaml:"access_token"`
	CalendarID  string        `yaml:"calendar_id"`
	BaseURL     string        `yaml:"base_url"`
	TimeZone    string        `yaml:"time_zone"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type WorkflowConfig struct {
	PacingDelay   time.Duration `yaml:"pacing_delay"`
	FetchLimit    int           `yaml:"fetch_limit"`
	Sender        string        `yaml:"sender"`
	DaysBack      int           `yaml:"days_back"`
	MaxRetries    int           `yaml:"max_retries"`
	LedgerTTL     time.Duration `yaml:"ledger_ttl"`
	NotifySummary bool          `yaml:"notify_summary"`
	Notify        bool          `yaml:"notify"`
	CreateEvents  bool          `yaml:"create_events"`
	Schedule      string        `yaml:"schedule"`
}

// OutboxConfig tunes the dispatcher used when both db and mq are enabled.
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	LogLevel     string              `yaml:"log_level"`
	AI           AIConfig            `yaml:"ai"`
	Notification NotificationConfig  `yaml:"notification"`
	Calendar     CalendarConfig      `yaml:"calendar"`
	Workflow     WorkflowConfig      `yaml:"workflow"`
	Outbox       OutboxConfig        `yaml:"outbox"`
	Tracing      otel.Config         `yaml:"tracing"`
	DB           config.DBConfig     `yaml:"db"`
	MQ           config.MQConfig     `yaml:"mq"`
	Redis        config.RedisConfig  `yaml:"redis"`
	Server       config.ServerConfig `yaml:"server"`
}

// Load reads base.yaml and the env overlay from dir, then applies environment
// overrides. The result is not validated.
func Load(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)

	config.OverrideString(&cfg.LogLevel, "LOG_LEVEL")
	config.OverrideBool(&cfg.Tracing.Enabled, "OTEL_ENABLED")
	config.OverrideString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	config.OverrideString(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	config.OverrideString(&cfg.AI.AnthropicKey, "ANTHROPIC_API_KEY")
	config.OverrideString(&cfg.AI.DefaultModel, "AI_DEFAULT_MODEL")

	n := &cfg.Notification
	config.OverrideString(&n.Order, "NOTIFY_ORDER")
	config.OverrideString(&n.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	config.OverrideString(&n.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	config.OverrideString(&n.Twilio.From, "TWILIO_FROM")
	config.OverrideString(&n.Twilio.To, "TWILIO_TO")
	config.OverrideString(&n.SMTP.Host, "SMTP_HOST")
	config.OverrideInt(&n.SMTP.Port, "SMTP_PORT")
	config.OverrideString(&n.SMTP.Username, "SMTP_USERNAME")
	config.OverrideString(&n.SMTP.Password, "SMTP_PASSWORD")
	config.OverrideString(&n.SMTP.From, "SMTP_FROM")
	config.OverrideString(&n.MailTo, "NOTIFY_MAIL_TO")

	// A single pair from the environment replaces the configured list.
	var pair service.CallMeBotPair
	config.OverrideString(&pair.Phone, "CALLMEBOT_PHONE")
	config.OverrideString(&pair.APIKey, "CALLMEBOT_API_KEY")
	if pair.Configured() {
		n.CallMeBot = []service.CallMeBotPair{pair}
	}

	config.OverrideString(&cfg.Calendar.AccessToken, "CALENDAR_ACCESS_TOKEN")
	config.OverrideString(&cfg.Calendar.CalendarID, "CALENDAR_ID")
	config.OverrideString(&cfg.Calendar.TimeZone, "CALENDAR_TIME_ZONE")

	config.OverrideInt(&cfg.Workflow.FetchLimit, "WORKFLOW_FETCH_LIMIT")
	config.OverrideString(&cfg.Workflow.Sender, "WORKFLOW_SENDER")
	config.OverrideInt(&cfg.Workflow.MaxRetries, "WORKFLOW_MAX_RETRIES")
	config.OverrideBool(&cfg.Workflow.NotifySummary, "WORKFLOW_NOTIFY_SUMMARY")
	config.OverrideString(&cfg.Workflow.Schedule, "WORKFLOW_SCHEDULE")
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.AI.OpenAIKey == "" && c.AI.AnthropicKey == "" {
		problems = append(problems, "no AI provider key configured")
	}
	if len(analysis.CandidateModels(c.AI.DefaultModel, c.AI.FallbackModels)) == 0 {
		problems = append(problems, "no analysis model configured")
	}
	if _, err := analysis.PromptFor(c.AI.Mode); err != nil {
		problems = append(problems, err.Error())
	}

	carrier := c.TwilioConfig().Configured()
	bot := len(c.BotPairs()) > 0
	switch c.Notification.Order {
	case "":
		if carrier && bot {
			problems = append(problems, "notification.order must be set when both twilio and callmebot are configured")
		}
	case OrderCarrierFirst, OrderBotFirst:
	default:
		problems = append(problems, fmt.Sprintf("unknown notification.order %q", c.Notification.Order))
	}

	if c.Workflow.PacingDelay < 0 {
		problems = append(problems, "workflow.pacing_delay must not be negative")
	}
	if c.Calendar.TimeZone != "" {
		if _, err := time.LoadLocation(c.Calendar.TimeZone); err != nil {
			problems = append(problems, fmt.Sprintf("invalid calendar.time_zone %q", c.Calendar.TimeZone))
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// IsConfigurationError reports whether err came from Validate.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func (c *Config) AIClientConfig() service.AIConfig {
	return service.AIConfig{
		OpenAIKey:      c.AI.OpenAIKey,
		OpenAIBaseURL:  c.AI.OpenAIBaseURL,
		AnthropicKey:   c.AI.AnthropicKey,
		AnthropicBase:  c.AI.AnthropicBase,
		RequestTimeout: c.AI.CallTimeout,
	}
}

func (c *Config) EngineConfig() analysis.Config {
	return analysis.Config{
		DefaultModel:   c.AI.DefaultModel,
		FallbackModels: c.AI.FallbackModels,
		MaxTokens:      c.AI.MaxTokens,
		Temperature:    c.AI.Temperature,
		CallTimeout:    c.AI.CallTimeout,
	}
}

func (c *Config) TwilioConfig() service.TwilioConfig {
	t := c.Notification.Twilio
	return service.TwilioConfig{
		AccountSID: t.AccountSID,
		AuthToken:  t.AuthToken,
		From:       t.From,
		To:         t.To,
		BaseURL:    t.BaseURL,
		Timeout:    c.Notification.AttemptTimeout,
	}
}

// BotPairs returns only the fully configured CallMeBot pairs.
func (c *Config) BotPairs() []service.CallMeBotPair {
	var pairs []service.CallMeBotPair
	for _, p := range c.Notification.CallMeBot {
		if p.Configured() {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func (c *Config) SMTPConfig() service.SMTPConfig {
	s := c.Notification.SMTP
	return service.SMTPConfig{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		From:     s.From,
	}
}

// BreakerConfig falls back to the package defaults for unset fields.
func (c *Config) BreakerConfig() circuitbreaker.Config {
	out := circuitbreaker.DefaultConfig()
	b := c.Notification.Breaker
	if b.FailureThreshold > 0 {
		out.FailureThreshold = b.FailureThreshold
	}
	if b.SuccessThreshold > 0 {
		out.SuccessThreshold = b.SuccessThreshold
	}
	if b.Timeout > 0 {
		out.Timeout = b.Timeout
	}
	if b.HalfOpenMaxRequests > 0 {
		out.HalfOpenMaxRequests = b.HalfOpenMaxRequests
	}
	return out
}

func (c *Config) CalendarClientConfig() service.CalendarConfig {
	return service.CalendarConfig{
		AccessToken: c.Calendar.AccessToken,
		CalendarID:  c.Calendar.CalendarID,
		BaseURL:     c.Calendar.BaseURL,
		Timeout:     c.Calendar.CallTimeout,
	}
}

func (c *Config) ReconcilerConfig() calendar.Config {
	return calendar.Config{
		TimeZone:    c.Calendar.TimeZone,
		CallTimeout: c.Calendar.CallTimeout,
	}
}

// CoordinatorConfig resolves days_back against now into a Since filter.
func (c *Config) CoordinatorConfig(now time.Time) workflow.Config {
	filter := workflow.Filter{Sender: c.Workflow.Sender}
	if c.Workflow.DaysBack > 0 {
		filter.Since = now.AddDate(0, 0, -c.Workflow.DaysBack)
	}
	return workflow.Config{
		PacingDelay:   c.Workflow.PacingDelay,
		NotifySummary: c.Workflow.NotifySummary,
		FetchLimit:    c.Workflow.FetchLimit,
		Filter:        filter,
	}
}

func (c *Config) RunOptions() workflow.Options {
	return workflow.Options{
		Notify:       c.Workflow.Notify,
		CreateEvents: c.Workflow.CreateEvents,
		Mode:         c.AI.Mode,
	}
}
