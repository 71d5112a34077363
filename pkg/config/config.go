package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backend selectors for the identity repository and the session cache.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Password hashing algorithms understood by the auth service.
const (
	PasswordArgon2id = "argon2id"
	PasswordBcrypt   = "bcrypt"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	IdentityStore string
	SessionStore  string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Password PasswordConfig
	CORS     CORSConfig
	Log      LogConfig
	Client   ClientConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// JWTConfig holds signing material and lifetimes for both token kinds.
type JWTConfig struct {
	AccessSecret      string
	RefreshSecret     string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Leeway            time.Duration
}

// PasswordConfig selects the hashing algorithm for new credential records.
type PasswordConfig struct {
	Algorithm  string
	BcryptCost int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ClientConfig configures the reference client (guard, credential store, facade).
type ClientConfig struct {
	BaseURL              string
	CredentialPath       string
	CredentialPassphrase string
	RequestTimeout       time.Duration
	RefreshTimeout       time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.IdentityStore = strings.ToLower(v.GetString("IDENTITY_STORE"))
	cfg.SessionStore = strings.ToLower(v.GetString("SESSION_STORE"))

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		AccessSecret:      v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret:     v.GetString("JWT_REFRESH_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_ACCESS_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("JWT_REFRESH_EXPIRATION"), 7*24*time.Hour),
		Leeway:            parseDuration(v.GetString("JWT_LEEWAY"), 5*time.Second),
	}

	cfg.Password = PasswordConfig{
		Algorithm:  strings.ToLower(v.GetString("PASSWORD_ALGORITHM")),
		BcryptCost: v.GetInt("PASSWORD_BCRYPT_COST"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Client = ClientConfig{
		BaseURL:              strings.TrimRight(v.GetString("CLIENT_BASE_URL"), "/"),
		CredentialPath:       v.GetString("CLIENT_CREDENTIAL_PATH"),
		CredentialPassphrase: v.GetString("CLIENT_CREDENTIAL_PASSPHRASE"),
		RequestTimeout:       parseDuration(v.GetString("CLIENT_REQUEST_TIMEOUT"), 15*time.Second),
		RefreshTimeout:       parseDuration(v.GetString("CLIENT_REFRESH_TIMEOUT"), 10*time.Second),
	}

	return cfg
}

// Validate rejects configurations the server cannot safely run with.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("access and refresh tokens must use different secrets")
	}
	if c.JWT.Expiration <= 0 || c.JWT.RefreshExpiration <= c.JWT.Expiration {
		return errors.New("refresh expiration must be longer than access expiration")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT_LEEWAY must be between 0 and 1m")
	}
	switch c.IdentityStore {
	case BackendPostgres, BackendMemory:
	default:
		return errors.New("IDENTITY_STORE must be postgres or memory")
	}
	switch c.SessionStore {
	case BackendRedis, BackendMemory:
	default:
		return errors.New("SESSION_STORE must be redis or memory")
	}
	switch c.Password.Algorithm {
	case PasswordArgon2id, PasswordBcrypt:
	default:
		return errors.New("PASSWORD_ALGORITHM must be argon2id or bcrypt")
	}
	if c.Env == EnvProduction && (c.JWT.AccessSecret == "dev_access_secret" || c.JWT.RefreshSecret == "dev_refresh_secret") {
		return errors.New("development JWT secrets must not be used in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 5000)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("IDENTITY_STORE", BackendPostgres)
	v.SetDefault("SESSION_STORE", BackendRedis)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mobile_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "auth:session:")

	v.SetDefault("JWT_ACCESS_SECRET", "dev_access_secret")
	v.SetDefault("JWT_REFRESH_SECRET", "dev_refresh_secret")
	v.SetDefault("JWT_ISSUER", "mobile-auth-api")
	v.SetDefault("JWT_ACCESS_EXPIRATION", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRATION", "168h")
	v.SetDefault("JWT_LEEWAY", "5s")

	v.SetDefault("PASSWORD_ALGORITHM", PasswordArgon2id)
	v.SetDefault("PASSWORD_BCRYPT_COST", 12)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CLIENT_BASE_URL", "http://localhost:5000/api")
	v.SetDefault("CLIENT_CREDENTIAL_PATH", "./.session")
	v.SetDefault("CLIENT_CREDENTIAL_PASSPHRASE", "")
	v.SetDefault("CLIENT_REQUEST_TIMEOUT", "15s")
	v.SetDefault("CLIENT_REFRESH_TIMEOUT", "10s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
