package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageCouch  = "couch"
	StorageMongo  = "mongo"
	StorageMemory = "memory"

	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Backend string
}

// DatabaseConfig is the CouchDB connection.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshSecret          string
	RefreshTokenExpiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
	// AllowedOrigins gates the WebSocket handshake; defaults to the CORS
	// origins.
	AllowedOrigins  string
}

type RateLimitConfig struct {
	Enabled           bool
	Backend           string
	RequestsPerMinute int
	Burst             int
	Window            time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshExp, err := getEnvAsDuration("REFRESH_TOKEN_EXPIRATION", 90*24*time.Hour)
	if err != nil {
		return nil, err
	}
	writeWait, err := getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	pingPeriod, err := getEnvAsDuration("WS_PING_PERIOD", pongWait*9/10)
	if err != nil {
		return nil, err
	}
	window, err := getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	mongoTimeout, err := getEnvAsDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	shutdown, err := getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "dev-secret-change-in-production")
	corsOrigins := getEnv("CORS_ALLOWED_ORIGINS", "*")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			Env:             getEnv("ENV", "development"),
			ShutdownTimeout: shutdown,
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", StorageCouch),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "collab_notes"),
		},
		Mongo: MongoConfig{
			URI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGO_DATABASE", "collab_notes"),
			ConnectTimeout: mongoTimeout,
		},
		JWT: JWTConfig{
			Secret:                 jwtSecret,
			Expiration:             jwtExp,
			RefreshSecret:          getEnv("JWT_REFRESH_SECRET", jwtSecret+"-refresh"),
			RefreshTokenExpiration: refreshExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:       writeWait,
			PongWait:        pongWait,
			PingPeriod:      pingPeriod,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
			AllowedOrigins:  getEnv("SOCKET_CLIENT_URL", corsOrigins),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Backend:           getEnv("RATE_LIMIT_BACKEND", RateLimitMemory),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			Window:            window,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageCouch, StorageMongo, StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if c.JWT.Secret == c.JWT.RefreshSecret {
		return fmt.Errorf("JWT_REFRESH_SECRET must differ from JWT_SECRET")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("WS_PING_PERIOD must be shorter than WS_PONG_WAIT")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
