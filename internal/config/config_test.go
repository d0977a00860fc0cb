package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "audit"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndBucket(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE / S3_BUCKET")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Rules.PhoneMinSeconds != 90 || c.Rules.InPersonMinSeconds != 180 {
		t.Fatalf("unexpected duration floors: %+v", c.Rules)
	}
	if c.Telephony.DefaultProvider != "deepcall" {
		t.Fatalf("expected deepcall default provider, got %q", c.Telephony.DefaultProvider)
	}
	if c.Mongo.Database != "survey_platform" {
		t.Fatalf("unexpected mongo database default %q", c.Mongo.Database)
	}
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	c := validLocal()
	c.Telephony.DefaultProvider = "twilio"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestLoad_ReadsDotEnvInLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "APP_PORT=9090\nMONGO_URI=mongodb://m:27017\nDB_HOST=h\nDB_PORT=5432\nDB_USER=u\nDB_NAME=n\nREDIS_HOST=r\nREDIS_PORT=6379\nJWT_SECRET=s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("APP_ENV", "local")
	t.Setenv("ENV_FILE", path)
	// godotenv does not override existing vars, so make sure these are unset for the test.
	for _, k := range []string{"APP_PORT", "MONGO_URI", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "REDIS_HOST", "REDIS_PORT", "JWT_SECRET"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if c.App.Port != 9090 || c.Mongo.URI != "mongodb://m:27017" {
		t.Fatalf("unexpected config: %+v", c.App)
	}
}
