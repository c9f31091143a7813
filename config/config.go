package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort    string
	AppMode    string
	LogMode    string
	InstanceID string
	CORSOrigin string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	JWTSecret string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RelayEnabled  bool

	S3Region     string
	S3Bucket     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3PublicBase string
	S3PresignTTL time.Duration

	MessageRateLimit   int
	WebSocketRateLimit int
	SessionBufferSize  int

	MaintenanceBatchSize int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	hostname, _ := os.Hostname()

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		AppMode:    getEnv("APP_MODE", "debug"),
		LogMode:    getEnv("LOG_MODE", "development"),
		InstanceID: getEnv("INSTANCE_ID", hostname),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "studysphere"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RelayEnabled:  getEnvAsBool("RELAY_ENABLED", true),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),
		S3PresignTTL: time.Duration(getEnvAsInt("S3_PRESIGN_TTL_MIN", 60)) * time.Minute,

		MessageRateLimit:   getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		WebSocketRateLimit: getEnvAsInt("WEBSOCKET_RATE_LIMIT", 10),
		SessionBufferSize:  getEnvAsInt("SESSION_BUFFER_SIZE", 256),

		MaintenanceBatchSize: getEnvAsInt("MAINTENANCE_BATCH_SIZE", 500),
	}
}

// S3Enabled reports whether avatar keys can be presigned.
func (c *Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
