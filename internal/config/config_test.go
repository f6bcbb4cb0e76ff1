package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T, env string) {
	t.Helper()
	t.Setenv("APP_ENV", env)
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "x")
	t.Setenv("DB_NAME", "videokyc")
	t.Setenv("DB_SSLMODE", "")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DOCUMENTS_SIGNING_SECRET", "doc-secret")
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.HasPrefix(err.Error(), "config errors:") {
		t.Fatalf("expected joined errors, got %q", err.Error())
	}
}

func TestLoad_LocalDefaults(t *testing.T) {
	setBaseEnv(t, "local")

	c, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if len(c.WebRTC.STUNURLs) != 1 || c.WebRTC.STUNURLs[0] != DefaultSTUNURL {
		t.Fatalf("expected default stun server, got %v", c.WebRTC.STUNURLs)
	}
	if c.WebRTC.NegotiationTimeout != 30*time.Second {
		t.Fatalf("expected 30s negotiation timeout, got %s", c.WebRTC.NegotiationTimeout)
	}
	if c.Documents.URLTTL != 60*time.Second {
		t.Fatalf("expected 60s document url ttl, got %s", c.Documents.URLTTL)
	}
	if c.Calls.ResponderMaxLive != 1 {
		t.Fatalf("expected one live call per responder, got %d", c.Calls.ResponderMaxLive)
	}
}

func TestLoad_ProductionRequiresExplicitSettings(t *testing.T) {
	setBaseEnv(t, "production")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "EMAIL_API_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestLoad_ParsesICEServers(t *testing.T) {
	setBaseEnv(t, "dev")
	t.Setenv("ICE_STUN_URLS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("ICE_TURN_URL", "turn:relay.example:3478")
	t.Setenv("ICE_TURN_USERNAME", "u")
	t.Setenv("ICE_TURN_CREDENTIAL", "p")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.WebRTC.STUNURLs) != 2 || c.WebRTC.STUNURLs[1] != "stun:b.example:3478" {
		t.Fatalf("unexpected stun urls %v", c.WebRTC.STUNURLs)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	setBaseEnv(t, "local")
	t.Setenv("NEGOTIATION_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestLoad_TURNNeedsCredentials(t *testing.T) {
	setBaseEnv(t, "local")
	t.Setenv("ICE_TURN_URL", "turn:relay.example:3478")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for turn without credentials")
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	setBaseEnv(t, "local")
	t.Setenv("PUBLIC_BASE_URL", "https://kyc.example/")
	t.Setenv("ALLOWED_ORIGINS", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(c.App.AllowedOrigins) != 1 || c.App.AllowedOrigins[0] != "https://kyc.example" {
		t.Fatalf("expected public base url as origin, got %v", c.App.AllowedOrigins)
	}

	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	c, err = Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(c.App.AllowedOrigins) != 2 || c.App.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", c.App.AllowedOrigins)
	}
}
