package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process and the admin CLI.
// All values come from env; in local/dev an optional .env file is loaded first.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Mongo     MongoConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	Storage   StorageConfig
	Rules     RulesConfig
	Priority  PriorityConfig
	Reports   ReportsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// MongoConfig points at the document store holding queue entries, call records and responses.
type MongoConfig struct {
	URI      string
	Database string
}

// DBConfig is the Postgres database holding the append-only audit log.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type DeepCallConfig struct {
	BaseURL string
	UserID  string
	Token   string
}

type CloudTelephonyConfig struct {
	BaseURL string
	APIKey  string
}

type TelephonyConfig struct {
	DefaultProvider string
	DeepCall        DeepCallConfig
	CloudTelephony  CloudTelephonyConfig

	// Timeout bounds a single click-to-call request.
	Timeout time.Duration
	// RatePerSecond caps outbound click-to-call requests per provider.
	RatePerSecond float64
	// MaxActiveCallsPerInterviewer is enforced through a Redis concurrency cap.
	MaxActiveCallsPerInterviewer int
	// CallbackBaseURL is this service's public base URL for vendor webhooks.
	CallbackBaseURL string
}

// StorageConfig targets an S3-compatible bucket for recordings and generated reports.
type StorageConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	URLTTL    time.Duration
}

type RulesConfig struct {
	PhoneMinSeconds      int
	InPersonMinSeconds   int
	LocationCheckEnabled bool
	LocationRadiusMeters float64
	// ShortNoAnswerHeuristic enables the "very short and no real answers => abandoned" rule.
	ShortNoAnswerHeuristic bool
	// SurveyRulesPath is a JSON file with per-survey eligibility and contact questions.
	SurveyRulesPath string
	// SamplingPointsPath is the polling-station JSON used by the location check.
	SamplingPointsPath string
}

type PriorityConfig struct {
	// Source is a JSON file with the AC priority map.
	Source string
	TTL    time.Duration
}

type ReportsConfig struct {
	// GeneratorPath is the generator command line, e.g. "python3 generate_complete_report.py".
	GeneratorPath string
	TemplatePath  string
	Timeout       time.Duration
}

func Load() (Config, error) {
	loadDotEnv()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", true)

	c.Mongo.URI = strings.TrimSpace(os.Getenv("MONGO_URI"))
	c.Mongo.Database = strings.TrimSpace(os.Getenv("MONGO_DATABASE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", true)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", true)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Telephony.DefaultProvider = strings.TrimSpace(os.Getenv("TELEPHONY_DEFAULT_PROVIDER"))
	c.Telephony.DeepCall.BaseURL = strings.TrimSpace(os.Getenv("DEEPCALL_BASE_URL"))
	c.Telephony.DeepCall.UserID = strings.TrimSpace(os.Getenv("DEEPCALL_USER_ID"))
	c.Telephony.DeepCall.Token = os.Getenv("DEEPCALL_TOKEN")
	c.Telephony.CloudTelephony.BaseURL = strings.TrimSpace(os.Getenv("CLOUDTELEPHONY_BASE_URL"))
	c.Telephony.CloudTelephony.APIKey = os.Getenv("CLOUDTELEPHONY_API_KEY")
	c.Telephony.Timeout = optDuration("TELEPHONY_TIMEOUT")
	c.Telephony.RatePerSecond, parseErrs = floatVar(parseErrs, "TELEPHONY_RATE_PER_SECOND")
	c.Telephony.MaxActiveCallsPerInterviewer, parseErrs = intVar(parseErrs, "TELEPHONY_MAX_ACTIVE_CALLS", false)
	c.Telephony.CallbackBaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_CALLBACK_BASE_URL"))

	c.Storage.Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))
	c.Storage.Region = strings.TrimSpace(os.Getenv("S3_REGION"))
	c.Storage.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	c.Storage.AccessKey = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY"))
	c.Storage.SecretKey = os.Getenv("S3_SECRET_KEY")
	c.Storage.Prefix = strings.TrimSpace(os.Getenv("S3_PREFIX"))
	c.Storage.URLTTL = optDuration("S3_URL_TTL")

	c.Rules.PhoneMinSeconds, parseErrs = intVar(parseErrs, "RULES_PHONE_MIN_SECONDS", false)
	c.Rules.InPersonMinSeconds, parseErrs = intVar(parseErrs, "RULES_IN_PERSON_MIN_SECONDS", false)
	c.Rules.LocationCheckEnabled = optBool("RULES_LOCATION_CHECK")
	c.Rules.LocationRadiusMeters, parseErrs = floatVar(parseErrs, "RULES_LOCATION_RADIUS_METERS")
	c.Rules.ShortNoAnswerHeuristic = optBool("RULES_SHORT_NO_ANSWER_ABANDON")
	c.Rules.SurveyRulesPath = strings.TrimSpace(os.Getenv("RULES_SURVEY_FILE"))
	c.Rules.SamplingPointsPath = strings.TrimSpace(os.Getenv("RULES_SAMPLING_POINTS_FILE"))

	c.Priority.Source = strings.TrimSpace(os.Getenv("PRIORITY_SOURCE"))
	c.Priority.TTL = optDuration("PRIORITY_TTL")

	c.Reports.GeneratorPath = strings.TrimSpace(os.Getenv("REPORT_GENERATOR_PATH"))
	c.Reports.TemplatePath = strings.TrimSpace(os.Getenv("REPORT_TEMPLATE_PATH"))
	c.Reports.Timeout = optDuration("REPORT_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "survey_platform"
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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
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
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Telephony.DefaultProvider {
	case "":
		c.Telephony.DefaultProvider = "deepcall"
	case "deepcall", "cloudtelephony":
	default:
		errs = append(errs, fmt.Errorf("TELEPHONY_DEFAULT_PROVIDER must be deepcall or cloudtelephony, got %q", c.Telephony.DefaultProvider))
	}
	if c.Telephony.Timeout <= 0 {
		c.Telephony.Timeout = 10 * time.Second
	}
	if c.Telephony.RatePerSecond <= 0 {
		c.Telephony.RatePerSecond = 5
	}
	if c.Telephony.MaxActiveCallsPerInterviewer <= 0 {
		c.Telephony.MaxActiveCallsPerInterviewer = 1
	}

	if c.Storage.Bucket == "" && c.IsProduction() {
		errs = append(errs, errors.New("S3_BUCKET is required in production"))
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "ap-south-1"
	}
	if c.Storage.URLTTL <= 0 {
		c.Storage.URLTTL = 15 * time.Minute
	}

	if c.Rules.PhoneMinSeconds <= 0 {
		c.Rules.PhoneMinSeconds = 90
	}
	if c.Rules.InPersonMinSeconds <= 0 {
		c.Rules.InPersonMinSeconds = 180
	}
	if c.Rules.LocationRadiusMeters <= 0 {
		c.Rules.LocationRadiusMeters = 5000
	}

	if c.Priority.TTL <= 0 {
		c.Priority.TTL = 5 * time.Minute
	}
	if c.Reports.Timeout <= 0 {
		c.Reports.Timeout = 10 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

func loadDotEnv() {
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env != "" && env != "local" && env != "dev" {
		return
	}
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	// Missing file is fine; real env always wins over the file.
	_ = godotenv.Load(path)
}

func intVar(errs []error, key string, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func floatVar(errs []error, key string) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
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
