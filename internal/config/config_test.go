package config

import "testing"

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Telephony: TelephonyConfig{
			MaxConcurrentDials: 5,
		},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_SkipSignatureRefusedInProduction(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "callbridge"
	c.Auth.JWTAudience = "api"
	c.Telephony.SkipSignature = true
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for signature bypass in production")
	}

	c.App.Env = "staging"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected bypass allowed outside production, got %v", err)
	}
}

func TestValidate_ProviderCredentials(t *testing.T) {
	c := validBase()
	c.Telephony.Provider = "twilio"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for twilio without credentials")
	}
	c.Telephony.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid twilio config, got %v", err)
	}

	c = validBase()
	c.Telephony.Provider = "exotel"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for exotel without credentials")
	}
	c.Telephony.Exotel = ExotelConfig{AccountSID: "ex1", Token: "tok", Subdomain: "api.exotel.com"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid exotel config, got %v", err)
	}

	c = validBase()
	c.Telephony.Provider = "other"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
