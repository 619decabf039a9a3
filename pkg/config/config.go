package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"library-lending/pkg/database"
	"library-lending/pkg/policy"
)

type App struct {
	// DB
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"program"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"test"`
	DBName     string `envconfig:"DB_NAME" default:"lending"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"lending.db"`
	// HTTP
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// JWT
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`
	// Messaging
	RabbitURL      string `envconfig:"RABBIT_URL"`
	NotifyExchange string `envconfig:"NOTIFY_EXCHANGE" default:"lending.notifications"`
	// Tracing
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Env          string `envconfig:"ENV" default:"dev"`
	// Policy
	FinePerDay           int64         `envconfig:"FINE_PER_DAY" default:"5000"`
	RenewalsAllowed      int           `envconfig:"RENEWALS_ALLOWED" default:"2"`
	RenewalDays          int           `envconfig:"RENEWAL_DAYS" default:"7"`
	LoanDays             int           `envconfig:"LOAN_DAYS" default:"14"`
	ReminderIntervalDays int           `envconfig:"REMINDER_INTERVAL_DAYS" default:"3"`
	SweepInterval        time.Duration `envconfig:"SWEEP_INTERVAL" default:"6h"`
	SweepInitialDelay    time.Duration `envconfig:"SWEEP_INITIAL_DELAY" default:"1m"`
	LibraryTZ            string        `envconfig:"LIBRARY_TZ" default:"UTC"`
	// Sweep retries
	SweepMaxRetries  int           `envconfig:"SWEEP_MAX_RETRIES" default:"5"`
	SweepRetryDelay  time.Duration `envconfig:"SWEEP_RETRY_DELAY" default:"30s"`
	SweepRetryJitter float64       `envconfig:"SWEEP_RETRY_JITTER" default:"0.3"`
}

// Load reads an optional .env file, then the environment.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] ignoring .env: %v", err)
	}
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	if c.JWTSecret == "" {
		return c, fmt.Errorf("JWT_SECRET must not be empty")
	}
	if _, err := c.Policy(); err != nil {
		return c, err
	}
	if c.SweepRetryJitter < 0 || c.SweepRetryJitter > 1 {
		return c, fmt.Errorf("SWEEP_RETRY_JITTER must be between 0 and 1")
	}
	return c, nil
}

func (c App) Database() database.Config {
	return database.Config{
		Driver:     c.DBDriver,
		Host:       c.DBHost,
		Port:       c.DBPort,
		User:       c.DBUser,
		Password:   c.DBPassword,
		Name:       c.DBName,
		SQLitePath: c.SQLitePath,
	}
}

func (c App) Policy() (policy.Policy, error) {
	loc, err := time.LoadLocation(c.LibraryTZ)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("LIBRARY_TZ: %w", err)
	}
	p := policy.Default()
	p.FinePerDay = c.FinePerDay
	p.RenewalsAllowed = c.RenewalsAllowed
	p.RenewalDays = c.RenewalDays
	p.LoanDays = c.LoanDays
	p.ReminderIntervalDays = c.ReminderIntervalDays
	p.SweepInterval = c.SweepInterval
	p.SweepInitialDelay = c.SweepInitialDelay
	p.Location = loc
	if err := p.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}
