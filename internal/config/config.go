package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port     int    `yaml:"port"`
		AdminKey string `yaml:"adminKey"`
		CORS     struct {
			AllowedOrigins []string `yaml:"allowedOrigins"`
		} `yaml:"cors"`
		Webhook struct {
			RatePerSecond float64 `yaml:"ratePerSecond"`
			Burst         int     `yaml:"burst"`
		} `yaml:"webhook"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // sqlite | mysql | postgres
		Path     string `yaml:"path"`   // sqlite file
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	GitHub struct {
		AppID          string `yaml:"appId"`
		PrivateKeyPath string `yaml:"privateKeyPath"`
		WebhookSecret  string `yaml:"webhookSecret"`
		BaseURL        string `yaml:"baseUrl"`
	} `yaml:"github"`

	Model struct {
		APIKey       string  `yaml:"apiKey"`
		BaseURL      string  `yaml:"baseUrl"`
		Name         string  `yaml:"name"`
		CostPer1KIn  float64 `yaml:"costPer1kInput"`
		CostPer1KOut float64 `yaml:"costPer1kOutput"`
		TokenBudget  int     `yaml:"tokenBudget"`
	} `yaml:"model"`

	Analyzer struct {
		Binary         string `yaml:"binary"`
		RulesDir       string `yaml:"rulesDir"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"analyzer"`

	Storage struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"storage"`
}

// Load reads config.yaml, applies defaults and pulls secrets from the
// environment when the file leaves them empty.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Webhook.RatePerSecond == 0 {
		c.Server.Webhook.RatePerSecond = 5
	}
	if c.Server.Webhook.Burst == 0 {
		c.Server.Webhook.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/codesentry.db"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Analyzer.Binary == "" {
		c.Analyzer.Binary = "semgrep"
	}
	if c.Analyzer.RulesDir == "" {
		c.Analyzer.RulesDir = "rules"
	}
	if c.Analyzer.TimeoutSeconds == 0 {
		c.Analyzer.TimeoutSeconds = 120
	}
	if c.Model.CostPer1KIn == 0 {
		c.Model.CostPer1KIn = 0.0008
	}
	if c.Model.CostPer1KOut == 0 {
		c.Model.CostPer1KOut = 0.004
	}
	if c.Model.TokenBudget == 0 {
		c.Model.TokenBudget = 4000
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		c.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("CODESENTRY_MODEL_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("CODESENTRY_ADMIN_KEY"); v != "" {
		c.Server.AdminKey = v
	}
}

// MySQLDSN builds the go-sql-driver DSN. parseTime so DATETIME columns scan
// into time.Time.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name)
}

// PostgresDSN builds the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.Name, c.Database.SSLMode)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" && c.Database.Host == "" {
		return fmt.Errorf("database.host is required for driver %q", c.Database.Driver)
	}
	return nil
}
