package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API and agent processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	WebRTC    WebRTCConfig
	Calls     CallsConfig
	Email     EmailConfig
	Documents DocumentsConfig
}

type AppConfig struct {
	Env  string
	Port int
	// AllowedOrigins may open the signaling WebSocket from a browser. Defaults to PUBLIC_BASE_URL.
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// WebRTCConfig describes the NAT traversal relays handed to every peer connection.
type WebRTCConfig struct {
	STUNURLs       []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string

	// NegotiationTimeout bounds the time between entering connecting and reaching connected.
	NegotiationTimeout time.Duration
}

type CallsConfig struct {
	// StaleAfter is how long a live call record may go without an update before the sweeper rejects it.
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// ResponderMaxLive caps concurrent live calls per responder.
	ResponderMaxLive int
}

type EmailConfig struct {
	APIURL   string
	APIKey   string
	FromName string
}

type DocumentsConfig struct {
	Root          string
	SigningSecret string
	URLTTL        time.Duration
	PublicBaseURL string
}

const DefaultSTUNURL = "stun:stun.l.google.com:19302"

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")

	c.WebRTC.STUNURLs = splitList(os.Getenv("ICE_STUN_URLS"))
	c.WebRTC.TURNURL = strings.TrimSpace(os.Getenv("ICE_TURN_URL"))
	c.WebRTC.TURNUsername = strings.TrimSpace(os.Getenv("ICE_TURN_USERNAME"))
	c.WebRTC.TURNCredential = os.Getenv("ICE_TURN_CREDENTIAL")
	c.WebRTC.NegotiationTimeout, parseErrs = optionalDuration(parseErrs, "NEGOTIATION_TIMEOUT")

	c.Calls.StaleAfter, parseErrs = optionalDuration(parseErrs, "CALL_STALE_AFTER")
	c.Calls.SweepInterval, parseErrs = optionalDuration(parseErrs, "CALL_SWEEP_INTERVAL")
	if v := strings.TrimSpace(os.Getenv("RESPONDER_MAX_LIVE_CALLS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("RESPONDER_MAX_LIVE_CALLS must be an integer, got %q", v))
		}
		c.Calls.ResponderMaxLive = n
	}

	c.Email.APIURL = strings.TrimSpace(os.Getenv("EMAIL_API_URL"))
	c.Email.APIKey = os.Getenv("EMAIL_API_KEY")
	c.Email.FromName = strings.TrimSpace(os.Getenv("EMAIL_FROM_NAME"))

	c.Documents.Root = strings.TrimSpace(os.Getenv("DOCUMENTS_ROOT"))
	c.Documents.SigningSecret = os.Getenv("DOCUMENTS_SIGNING_SECRET")
	c.Documents.URLTTL, parseErrs = optionalDuration(parseErrs, "DOCUMENTS_URL_TTL")
	c.Documents.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional values. Production must still pass Validate with explicit settings.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DB.SSLMode) == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if len(c.App.AllowedOrigins) == 0 && c.Documents.PublicBaseURL != "" {
		c.App.AllowedOrigins = []string{c.Documents.PublicBaseURL}
	}
	if len(c.WebRTC.STUNURLs) == 0 {
		c.WebRTC.STUNURLs = []string{DefaultSTUNURL}
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		c.WebRTC.NegotiationTimeout = 30 * time.Second
	}
	if c.Calls.StaleAfter <= 0 {
		c.Calls.StaleAfter = 15 * time.Minute
	}
	if c.Calls.SweepInterval <= 0 {
		c.Calls.SweepInterval = time.Minute
	}
	if c.Calls.ResponderMaxLive <= 0 {
		c.Calls.ResponderMaxLive = 1
	}
	if c.Email.FromName == "" {
		c.Email.FromName = "TicketSwapper Team"
	}
	if c.Documents.URLTTL <= 0 {
		c.Documents.URLTTL = 60 * time.Second
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Email.APIURL == "" {
			errs = append(errs, errors.New("EMAIL_API_URL is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	for _, u := range c.WebRTC.STUNURLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			errs = append(errs, fmt.Errorf("ICE_STUN_URLS entries must start with stun: or stuns:, got %q", u))
		}
	}
	if c.WebRTC.TURNURL != "" && (c.WebRTC.TURNUsername == "" || c.WebRTC.TURNCredential == "") {
		errs = append(errs, errors.New("ICE_TURN_USERNAME and ICE_TURN_CREDENTIAL are required with ICE_TURN_URL"))
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		errs = append(errs, errors.New("NEGOTIATION_TIMEOUT must be positive"))
	}
	if c.Calls.StaleAfter <= c.WebRTC.NegotiationTimeout {
		errs = append(errs, errors.New("CALL_STALE_AFTER must be greater than NEGOTIATION_TIMEOUT"))
	}
	if c.Calls.ResponderMaxLive <= 0 {
		errs = append(errs, errors.New("RESPONDER_MAX_LIVE_CALLS must be positive"))
	}

	if c.Documents.SigningSecret == "" {
		errs = append(errs, errors.New("DOCUMENTS_SIGNING_SECRET is required"))
	}
	if c.Documents.URLTTL <= 0 {
		errs = append(errs, errors.New("DOCUMENTS_URL_TTL must be positive"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
