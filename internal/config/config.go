package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	AllowCredentials bool
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	KafkaBrokers     []string
	KafkaGroupID     string
	AuthSecret       string
	TypingTTL        time.Duration
	TypingThrottle   time.Duration
	PushTimeout      time.Duration
	Environment      string
}

func LoadConfig() *Config {
	allowedOrigins := []string{"*"}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins = strings.Split(origins, ",")
		for i, origin := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	kafkaBrokers := []string{"localhost:9092"}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kafkaBrokers = strings.Split(brokers, ",")
		for i, broker := range kafkaBrokers {
			kafkaBrokers[i] = strings.TrimSpace(broker)
		}
	}

	return &Config{
		Port:             getEnv("PORT", "8082"),
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: getEnv("ALLOW_CREDENTIALS", "false") == "true",
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:     kafkaBrokers,
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "supporthub-ws-group"),
		AuthSecret:       getEnv("AUTH_SECRET", "dev-secret-change-me"),
		TypingTTL:        getDuration("TYPING_TTL_SECONDS", 3),
		TypingThrottle:   getDuration("TYPING_THROTTLE_SECONDS", 1),
		PushTimeout:      getDuration("PUSH_TIMEOUT_SECONDS", 5),
		Environment:      getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
