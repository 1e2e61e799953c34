// Package config описывает настройки сервиса и загружает их из YAML-файла
// (путь в CONFIG_PATH) с переопределением секретов переменными окружения.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	GRPCServer              `yaml:"grpc_server"`
	RedisConnection         `yaml:"redis_connection"`
	JWTToken                `yaml:"jwttoken"`
	Stripe                  `yaml:"stripe"`
	Session                 `yaml:"session"`
	RabbitMQ                `yaml:"rabbitmq"`
	CORS                    `yaml:"cors"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// GRPCServer настройки gRPC-сервера проверки здоровья. Пустой адрес отключает сервер.
type GRPCServer struct {
	AddressGRPC    string        `yaml:"addressgrpc"`
	HealthInterval time.Duration `yaml:"health_interval" env-default:"15s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для работы с токенами сессий
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY" env-required:"true"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Stripe ключи и параметры проверки вебхуков платёжного провайдера
type Stripe struct {
	SecretKey          string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY" env-required:"true"`
	WebhookSecret      string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-required:"true"`
	SignatureTolerance time.Duration `yaml:"signature_tolerance" env-default:"5m"`
}

// Session параметры сессий и проверки тарифа на входе в защищённую зону
type Session struct {
	CookieName       string        `yaml:"cookie_name" env-default:"billing_session"`
	RefreshParam     string        `yaml:"refresh_param" env-default:"refresh"`
	UpsellURL        string        `yaml:"upsell_url" env-default:"/new-subscription"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout" env-default:"5s"`
	SettleDelay      time.Duration `yaml:"settle_delay" env-default:"1s"`
	SettleAttempts   int           `yaml:"settle_attempts" env-default:"1"`
	SettleMultiplier float64       `yaml:"settle_multiplier" env-default:"2"`
}

// RabbitMQ подключение для уведомлений об изменении тарифа. Пустая строка отключает уведомления.
type RabbitMQ struct {
	RabbitMQConnection string        `yaml:"rabbitmq_connection" env:"RABBITMQ_CONNECTION"`
	Exchange           string        `yaml:"exchange" env-default:"billing"`
	Retries            int           `yaml:"retries" env-default:"5"`
	RetryDelay         time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// CORS список источников, которым разрешены запросы обновления сессии из браузера
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env-separator:","`
}

// Load читает конфиг по указанному пути. Переменные из .env, если файл есть,
// попадают в окружение до разбора.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if configPath == "" {
		return nil, fmt.Errorf("%s: config path is empty", op)
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.SettleAttempts < 1 {
		cfg.SettleAttempts = 1
	}
	if budget := cfg.Session.GateBudget(); budget >= cfg.TimeoutHTTP {
		return nil, fmt.Errorf("%s: plan check may take %s, not less than http timeout %s", op, budget, cfg.TimeoutHTTP)
	}
	return &cfg, nil
}

// GateBudget худшее время проверки тарифа: таймаут обновления плюс все паузы
// перечитывания. Должно быть меньше таймаута HTTP-ответа, иначе сервер
// оборвёт соединение раньше, чем клиент получит перенаправление.
func (s Session) GateBudget() time.Duration {
	multiplier := s.SettleMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	total := s.RefreshTimeout
	delay := s.SettleDelay
	for range max(s.SettleAttempts, 1) {
		total += delay
		delay = time.Duration(float64(delay) * multiplier)
	}
	return total
}

// MustLoad загружает конфиг из CONFIG_PATH и завершает процесс при ошибке.
func MustLoad() *Config {
	_ = godotenv.Load()
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer: %s (timeout %s)\n"+
			"GRPCServer: %s\n"+
			"Redis: %s db=%d\n"+
			"Session: cookie=%s refresh_param=%s upsell=%s settle=%s x%d\n"+
			"RabbitMQ enabled: %t\n",
		c.Env,
		c.AddressHTTP, c.TimeoutHTTP,
		c.AddressGRPC,
		c.AddressRedis, c.DB,
		c.CookieName, c.RefreshParam, c.UpsellURL, c.SettleDelay, c.SettleAttempts,
		c.RabbitMQConnection != "",
	)
}
