package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rl1809/custody-ledger/internal/core/domain"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver string
	StoreDSN    string
	RedisAddr   string

	ApplyMaxRetries      int
	SerializedCategories []domain.Category

	ReconcileWorkers    int
	ReconcileInterval   time.Duration
	ReconcileCategories []domain.Category

	AggregateConcurrency int

	LogMode        string
	AllowedOrigins []string

	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
	Environment     string
}

// Load reads an optional .env file and then the process environment.
// Values that fail to parse keep their default and are reported in warnings.
func Load(envFiles ...string) (Config, []string) {
	_ = godotenv.Load(envFiles...)

	r := &reader{}
	cfg := Config{
		HTTPAddr:             r.str("HTTP_ADDR", ":8080"),
		GRPCAddr:             r.str("GRPC_ADDR", ":50051"),
		StoreDriver:          strings.ToLower(r.str("STORE_DRIVER", "sqlite")),
		StoreDSN:             r.str("STORE_DSN", ""),
		RedisAddr:            r.str("REDIS_ADDR", ""),
		ApplyMaxRetries:      r.positiveInt("APPLY_MAX_RETRIES", 5),
		SerializedCategories: r.categories("SERIALIZED_CATEGORIES", []domain.Category{domain.CategoryWeapons}),
		ReconcileWorkers:     r.positiveInt("RECONCILE_WORKERS", 4),
		ReconcileInterval:    r.duration("RECONCILE_INTERVAL", 0),
		ReconcileCategories:  r.categories("RECONCILE_CATEGORIES", domain.Categories()),
		AggregateConcurrency: r.positiveInt("AGGREGATE_CONCURRENCY", 8),
		LogMode:              r.str("LOG_MODE", "dev"),
		AllowedOrigins:       r.list("CORS_ALLOWED_ORIGINS"),
		OTelEnabled:          r.boolean("OTEL_ENABLED", false),
		OTelEndpoint:         r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelInsecure:         r.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTelSampleRatio:      r.ratio("OTEL_SAMPLE_RATIO", 1),
		Environment:          r.str("APP_ENV", "development"),
	}
	return cfg, r.warnings
}

type reader struct {
	warnings []string
}

func (r *reader) warn(key, raw string, def any) {
	r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, using %v", key, raw, def))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) positiveInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.warn(key, v, def)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		r.warn(key, v, def)
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.warn(key, v, def)
		return def
	}
	return b
}

func (r *reader) ratio(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		r.warn(key, v, def)
		return def
	}
	return f
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// categories rejects the whole list if any entry is unknown.
func (r *reader) categories(key string, def []domain.Category) []domain.Category {
	parts := r.list(key)
	if len(parts) == 0 {
		return def
	}
	out := make([]domain.Category, 0, len(parts))
	for _, p := range parts {
		c, err := domain.ParseCategory(strings.ToLower(p))
		if err != nil {
			r.warn(key, os.Getenv(key), def)
			return def
		}
		out = append(out, c)
	}
	return out
}
