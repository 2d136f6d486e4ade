package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"cutting-erp/internal/storage"
)

const defaultConfigPath = "./config/local.yaml"

type Config struct {
	Env           string `yaml:"env" env:"ENV" env-default:"prod"`
	StorageDriver string `yaml:"storage_driver" env:"STORAGE_DRIVER" env-default:"mysql"`
	HTTPServer    `yaml:"http_server"`
	DB            `yaml:"db"`

	AdminLogin string `yaml:"admin_login" env:"ADMIN_LOGIN"`
	AdminPass  string `yaml:"admin_pass" env:"ADMIN_PASS"`
	// Operators are storekeepers allowed to issue, login to password.
	Operators map[string]string `yaml:"operators"`

	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`

	Kafka   Kafka   `yaml:"kafka"`
	Log     Log     `yaml:"log"`
	Cutting Cutting `yaml:"cutting"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:4001"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type DB struct {
	User         string `yaml:"user" env:"DB_USER"`
	Password     string `yaml:"password" env:"DB_PASSWORD"`
	Host         string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port         int    `yaml:"port" env:"DB_PORT" env-default:"3306"`
	Name         string `yaml:"name" env:"DB_NAME"`
	ParseTime    bool   `yaml:"parse_time" env-default:"true"`
	MaxOpenConns int    `yaml:"max_open_conns" env-default:"10"`
}

// DSN is the go-sql-driver/mysql data source name.
func (db DB) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=%v&multiStatements=true",
		db.User, db.Password, db.Host, db.Port, db.Name, db.ParseTime)
}

type Kafka struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"material.issued"`
}

type Log struct {
	ErrorFile string `yaml:"error_file" env-default:"errors.log"`
}

type Cutting struct {
	ScrapThresholdMM int           `yaml:"scrap_threshold_mm" env-default:"300"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env-default:"5s"`
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "mysql":
		if c.DB.User == "" || c.DB.Name == "" {
			return fmt.Errorf("db user and name are required for the mysql driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.Cutting.ScrapThresholdMM != storage.ScrapThresholdMM {
		return fmt.Errorf("scrap threshold is fixed at %dmm, config says %d", storage.ScrapThresholdMM, c.Cutting.ScrapThresholdMM)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled without brokers")
	}

	return nil
}

// Load reads the file at path and applies env overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func MustConfig() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}
