package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime parameters of the engine.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	// RosterBaseURL is the identity collaborator's REST endpoint. Empty
	// falls back to a static in-memory roster (local development).
	RosterBaseURL string

	SendGridAPIKey string
	MailFromEmail  string
	MailFromName   string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	AutoConfirmSweepSeconds int
}

// Load reads configuration from environment variables, optionally seeded
// from a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	sweepSeconds, err := intEnv("AUTO_CONFIRM_SWEEP_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	if sweepSeconds < 1 {
		return nil, fmt.Errorf("AUTO_CONFIRM_SWEEP_SECONDS must be >= 1, got %d", sweepSeconds)
	}

	return &Config{
		DatabaseURL:             dbURL,
		JWTSecretKey:            jwtKey,
		ServerPort:              port,
		RosterBaseURL:           os.Getenv("ROSTER_BASE_URL"),
		SendGridAPIKey:          os.Getenv("SENDGRID_API_KEY"),
		MailFromEmail:           os.Getenv("MAIL_FROM_EMAIL"),
		MailFromName:            os.Getenv("MAIL_FROM_NAME"),
		R2AccountID:             os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:           os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:       os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:            os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:         os.Getenv("R2_PUBLIC_BASE_URL"),
		AutoConfirmSweepSeconds: sweepSeconds,
	}, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}
