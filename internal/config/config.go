// Package config loads service settings from defaults, an optional
// config/.env.<env> file and environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/validate"
)

const (
	DriverMemory  = "memory"
	DriverDurable = "durable"
)

type HTTP struct {
	Port          string `json:"port" validate:"required"`
	SecureCookies bool   `json:"secure_cookies"`
}

type Backend struct {
	BaseURL    string        `json:"base_url" validate:"required,url"`
	Token      string        `json:"-"`
	Timeout    time.Duration `json:"timeout" validate:"gt=0"`
	MaxRetries int           `json:"max_retries" validate:"gte=0,lte=10"`
	PageSize   int           `json:"page_size" validate:"gt=0,lte=1000"`
}

type Mongo struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type Storage struct {
	Driver     string        `json:"driver" validate:"oneof=memory durable"`
	SessionTTL time.Duration `json:"session_ttl" validate:"gt=0"`
}

type Carrier struct {
	SlotTTL            time.Duration `json:"slot_ttl" validate:"gt=0"`
	MaxInlineQuestions int           `json:"max_inline_questions" validate:"gte=0"`
	MaxInlineBytes     int           `json:"max_inline_bytes" validate:"gte=0"`
}

type Reconciler struct {
	MaxPages int `json:"max_pages" validate:"gt=0"`
}

type JWT struct {
	Secret string        `json:"-"`
	TTL    time.Duration `json:"ttl" validate:"gt=0"`
}

// Config is the resolved service configuration.
type Config struct {
	Env            string     `json:"env"`
	Debug          bool       `json:"debug"`
	HTTP           HTTP       `json:"http"`
	Backend        Backend    `json:"backend"`
	Mongo          Mongo      `json:"mongo"`
	Redis          Redis      `json:"redis"`
	Storage        Storage    `json:"storage"`
	Carrier        Carrier    `json:"carrier"`
	Reconciler     Reconciler `json:"reconciler"`
	JWT            JWT        `json:"jwt"`
	AllowedOrigins []string   `json:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", false)
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("backend.base_url", "http://localhost:8000/api/")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("backend.page_size", 100)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "mm_onboarding")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.session_ttl", 30*time.Minute)
	v.SetDefault("carrier.slot_ttl", 10*time.Minute)
	v.SetDefault("carrier.max_inline_questions", 4)
	v.SetDefault("carrier.max_inline_bytes", 1800)
	v.SetDefault("reconciler.max_pages", 50)
	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("jwt.ttl", 30*24*time.Hour)
	v.SetDefault("cors.allowed_origins", "*")
}

// Load reads the configuration. ENV selects the environment (DEV by
// default) and the prefix of environment variables, e.g. PROD_HTTP_PORT.
// dir is where config/.env.<env> is looked up; empty means the working
// directory.
func Load(dir string) (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "config: working directory")
		}
		dir = wd
	}
	dotEnvPath := filepath.Join(dir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "config: load %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "config: stat %s", dotEnvPath)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Env:   env,
		Debug: v.GetBool("debug"),
		HTTP: HTTP{
			Port:          v.GetString("http.port"),
			SecureCookies: v.GetBool("http.secure_cookies"),
		},
		Backend: Backend{
			BaseURL:    v.GetString("backend.base_url"),
			Token:      v.GetString("backend.token"),
			Timeout:    v.GetDuration("backend.timeout"),
			MaxRetries: v.GetInt("backend.max_retries"),
			PageSize:   v.GetInt("backend.page_size"),
		},
		Mongo: Mongo{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: Storage{
			Driver:     strings.ToLower(v.GetString("storage.driver")),
			SessionTTL: v.GetDuration("storage.session_ttl"),
		},
		Carrier: Carrier{
			SlotTTL:            v.GetDuration("carrier.slot_ttl"),
			MaxInlineQuestions: v.GetInt("carrier.max_inline_questions"),
			MaxInlineBytes:     v.GetInt("carrier.max_inline_bytes"),
		},
		Reconciler: Reconciler{MaxPages: v.GetInt("reconciler.max_pages")},
		JWT: JWT{
			Secret: v.GetString("jwt.secret"),
			TTL:    v.GetDuration("jwt.ttl"),
		},
		AllowedOrigins: splitList(v.GetString("cors.allowed_origins")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the settings a driver needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Storage.Driver == DriverDurable && (c.Mongo.URI == "" || c.Redis.Addr == "") {
		return errors.New("config: durable storage needs mongo.uri and redis.addr")
	}
	if c.Env == "PROD" && (c.JWT.Secret == "" || c.JWT.Secret == "dev-secret-change-me") {
		return errors.New("config: jwt.secret must be set in PROD")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
