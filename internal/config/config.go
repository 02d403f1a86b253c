package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	// CacheBackend selects the Versioned Cache Store: "dynamo" or "memory".
	CacheBackend string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	SessionExpiry     time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion         string
	AlertTopicARN     string
	AlertMaxPerWindow int
	AlertWindow       time.Duration

	OrgAllowedEmailDomain string
	OrgAccessTokenTTL     time.Duration
	StaffEmails           []string

	GoogleClientID string

	TurnstileEnabled   bool
	TurnstileSiteKey   string
	TurnstileSecretKey string

	JiraTimeout time.Duration

	AllowedOrigins []string // CORS allowed origins

	// TrustProxy makes client IPs come from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Rooms        string
	RoomCodes    string
	Participants string
	Stories      string
	Votes        string
	Sessions     string
	Cache        string
}

// IsDevelopment reports whether the permissive development mode is on.
// In development a failed access-code email does not block login.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsStaff reports whether email belongs to the configured staff list.
func (c *Config) IsStaff(email string) bool {
	if email == "" {
		return false
	}
	for _, s := range c.StaffEmails {
		if strings.EqualFold(s, email) {
			return true
		}
	}
	return false
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Rooms:        getEnv("DYNAMO_TABLE_ROOMS", "poker_rooms"),
			RoomCodes:    getEnv("DYNAMO_TABLE_ROOM_CODES", "poker_room_codes"),
			Participants: getEnv("DYNAMO_TABLE_PARTICIPANTS", "poker_participants"),
			Stories:      getEnv("DYNAMO_TABLE_STORIES", "poker_stories"),
			Votes:        getEnv("DYNAMO_TABLE_VOTES", "poker_votes"),
			Sessions:     getEnv("DYNAMO_TABLE_SESSIONS", "poker_sessions"),
			Cache:        getEnv("DYNAMO_TABLE_CACHE", "poker_cache"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "planning-poker-exports"),
		CacheBackend: getEnv("CACHE_BACKEND", "dynamo"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		SessionExpiry:     time.Duration(getEnvInt("SESSION_EXPIRY_DAYS", 14)) * 24 * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		AlertTopicARN:     getEnv("SNS_ALERT_TOPIC_ARN", ""),
		AlertMaxPerWindow: getEnvInt("ERROR_ALERT_MAX_PER_WINDOW", 5),
		AlertWindow:       time.Duration(getEnvInt("ERROR_ALERT_WINDOW_SECONDS", 300)) * time.Second,

		OrgAllowedEmailDomain: strings.TrimPrefix(getEnv("ORG_ALLOWED_EMAIL_DOMAIN", ""), "@"),
		OrgAccessTokenTTL:     time.Duration(getEnvInt("ORG_ACCESS_TOKEN_TTL_SECONDS", 600)) * time.Second,
		StaffEmails:           splitList(getEnv("STAFF_EMAILS", "")),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),

		TurnstileEnabled:   getEnvBool("TURNSTILE_ENABLED", false),
		TurnstileSiteKey:   getEnv("TURNSTILE_SITE_KEY", ""),
		TurnstileSecretKey: getEnv("TURNSTILE_SECRET_KEY", ""),

		JiraTimeout: time.Duration(getEnvInt("JIRA_TIMEOUT_SECONDS", 15)) * time.Second,

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxy:     getEnvBool("TRUST_PROXY", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
