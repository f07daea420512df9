package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	APIKey        string
	PublicDir     string

	DatabaseURL string
	SQLitePath  string
	MediaDir    string

	MaxUploadBytes int64

	PolygonRPCURL        string
	WalletPrivateKey     string
	ProofContractAddress string
	AnchorTimeoutSecs    int
	AnchorFailurePolicy  string
	AnchorExplorerURL    string
	CertifyTimeoutSecs   int

	AdmissionPolicyPath string

	CacheSize       int
	CacheTTLSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitMaxKeys       int

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"PORT":                      "4000",
	"SQLITE_PATH":               "data/evidencia.db",
	"MEDIA_DIR":                 "data/uploads",
	"MAX_UPLOAD_BYTES":          10 * 1024 * 1024,
	"ANCHOR_TIMEOUT_SECONDS":    90,
	"ANCHOR_FAILURE_POLICY":     "fatal",
	"ANCHOR_EXPLORER_URL":       "https://mumbai.polygonscan.com/tx/",
	"CERTIFY_TIMEOUT_SECONDS":   120,
	"CACHE_SIZE":                1024,
	"CACHE_TTL_SECONDS":         600,
	"REDIS_DB":                  0,
	"RATE_LIMIT_REQUESTS":       100,
	"RATE_LIMIT_WINDOW_SECONDS": 60,
	"RATE_LIMIT_MAX_KEYS":       10000,
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (Config, error) {
	return load(newViper())
}

// Load reads an optional config file (dotenv, yaml, toml or json) and lets the
// environment override it.
func Load(path string) (Config, error) {
	if path == "" {
		return FromEnv()
	}
	v := newViper()
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (Config, error) {
	addr := v.GetString("HTTP_ADDR")
	if addr == "" {
		addr = ":" + v.GetString("PORT")
	}
	cfg := Config{
		HTTPAddr:               addr,
		PublicBaseURL:          strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		APIKey:                 v.GetString("API_KEY"),
		PublicDir:              v.GetString("PUBLIC_DIR"),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		SQLitePath:             v.GetString("SQLITE_PATH"),
		MediaDir:               v.GetString("MEDIA_DIR"),
		MaxUploadBytes:         positiveInt64(v, "MAX_UPLOAD_BYTES"),
		PolygonRPCURL:          v.GetString("POLYGON_RPC_URL"),
		WalletPrivateKey:       v.GetString("WALLET_PRIVATE_KEY"),
		ProofContractAddress:   v.GetString("PROOF_CONTRACT_ADDRESS"),
		AnchorTimeoutSecs:      positiveInt(v, "ANCHOR_TIMEOUT_SECONDS"),
		AnchorFailurePolicy:    strings.ToLower(strings.TrimSpace(v.GetString("ANCHOR_FAILURE_POLICY"))),
		AnchorExplorerURL:      v.GetString("ANCHOR_EXPLORER_URL"),
		CertifyTimeoutSecs:     positiveInt(v, "CERTIFY_TIMEOUT_SECONDS"),
		AdmissionPolicyPath:    v.GetString("ADMISSION_POLICY_PATH"),
		CacheSize:              positiveInt(v, "CACHE_SIZE"),
		CacheTTLSeconds:        positiveInt(v, "CACHE_TTL_SECONDS"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		RateLimitRequests:      v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindowSeconds: positiveInt(v, "RATE_LIMIT_WINDOW_SECONDS"),
		RateLimitMaxKeys:       positiveInt(v, "RATE_LIMIT_MAX_KEYS"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
	}
	switch cfg.AnchorFailurePolicy {
	case "fatal", "degrade":
	default:
		return cfg, errors.Errorf("ANCHOR_FAILURE_POLICY must be fatal or degrade, got %q", cfg.AnchorFailurePolicy)
	}
	return cfg, nil
}

// positiveInt falls back to the registered default for zero, negative or
// unparsable values.
func positiveInt(v *viper.Viper, key string) int {
	parsed := v.GetInt(key)
	if parsed <= 0 {
		def, _ := defaults[key].(int)
		return def
	}
	return parsed
}

func positiveInt64(v *viper.Viper, key string) int64 {
	parsed := v.GetInt64(key)
	if parsed <= 0 {
		def, _ := defaults[key].(int)
		return int64(def)
	}
	return parsed
}

// LedgerConfigured reports whether all three chain settings are present.
func (c Config) LedgerConfigured() bool {
	return c.PolygonRPCURL != "" && c.WalletPrivateKey != "" && c.ProofContractAddress != ""
}

func (c Config) AnchorTimeout() time.Duration {
	return time.Duration(c.AnchorTimeoutSecs) * time.Second
}

func (c Config) CertifyTimeout() time.Duration {
	return time.Duration(c.CertifyTimeoutSecs) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
