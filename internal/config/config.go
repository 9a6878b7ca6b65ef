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

	JWTPrivateKeyPath  string
	JWTPublicKeyPath   string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	OTPExpiry time.Duration

	QueueWorkers      int
	QueuePollInterval time.Duration
	SendTimeout       time.Duration
	RetryBaseBackoff  time.Duration
	ClaimLease        time.Duration // how long a claimed job stays invisible before reclaim

	ReminderHour  int          // daily reminder pass, server-local hour
	OverdueHour   int          // daily overdue pass, early morning
	ReportWeekday time.Weekday // weekly report day
	ReportHour    int

	S3ReportBucket string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion   string
	SNSTopicARN string // empty disables the push channel

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users         string
	Credentials   string
	OneTimeCodes  string
	DeliveryJobs  string
	Tasks         string
	FocusSessions string
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
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			Credentials:   getEnv("DYNAMO_TABLE_CREDENTIALS", "credentials"),
			OneTimeCodes:  getEnv("DYNAMO_TABLE_ONE_TIME_CODES", "one_time_codes"),
			DeliveryJobs:  getEnv("DYNAMO_TABLE_DELIVERY_JOBS", "delivery_jobs"),
			Tasks:         getEnv("DYNAMO_TABLE_TASKS", "tasks"),
			FocusSessions: getEnv("DYNAMO_TABLE_FOCUS_SESSIONS", "focus_sessions"),
		},

		JWTPrivateKeyPath:  getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:   getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		AccessTokenExpiry:  time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRY_MINUTES", 15)) * time.Minute,
		RefreshTokenExpiry: time.Duration(getEnvInt("REFRESH_TOKEN_EXPIRY_DAYS", 30)) * 24 * time.Hour,

		OTPExpiry: time.Duration(getEnvInt("OTP_EXPIRY_MINUTES", 10)) * time.Minute,

		QueueWorkers:      getEnvInt("QUEUE_WORKERS", 4),
		QueuePollInterval: time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		SendTimeout:       time.Duration(getEnvInt("SEND_TIMEOUT_SECONDS", 10)) * time.Second,
		RetryBaseBackoff:  time.Duration(getEnvInt("RETRY_BASE_BACKOFF_SECONDS", 2)) * time.Second,
		ClaimLease:        time.Duration(getEnvInt("QUEUE_CLAIM_LEASE_SECONDS", 60)) * time.Second,

		ReminderHour:  getEnvInt("REMINDER_HOUR", 8),
		OverdueHour:   getEnvInt("OVERDUE_HOUR", 6),
		ReportWeekday: time.Weekday(getEnvInt("REPORT_WEEKDAY", int(time.Monday))),
		ReportHour:    getEnvInt("REPORT_HOUR", 7),

		S3ReportBucket: getEnv("S3_REPORT_BUCKET", "dayloop-reports"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@dayloop.app"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
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
