package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL         string
	AIAPIKey            string
	EmbedModel          string
	EmbedDim            int
	GenModel            string
	Port                string
	AppEnv              string
	CompanyName         string
	WhatsAppToken       string
	WhatsAppPhoneID     string
	WhatsAppVerifyToken string
	JWTSecret           string
	LockTTLSeconds      int
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		AIAPIKey:            getEnv("GEMINI_API_KEY", ""),
		EmbedModel:          getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:            getEnvInt("EMBED_DIM", 768),
		GenModel:            getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:                getEnv("PORT", "8080"),
		AppEnv:              getEnv("APP_ENV", "development"),
		CompanyName:         getEnv("COMPANY_NAME", "Chatdesk Trading Co."),
		WhatsAppToken:       getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneID:     getEnv("WHATSAPP_PHONE_ID", ""),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		LockTTLSeconds:      getEnvInt("LOCK_TTL_SECONDS", 30),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
