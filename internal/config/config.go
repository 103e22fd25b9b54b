package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Gemini  GeminiConfig
	Retry   RetryConfig
	Worker  WorkerConfig
}

type ServerConfig struct {
	Port int
	// Token is the bearer token for the HTTP API, kept in the secret store.
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImageModel  string
	EditModel   string
	SpeechModel string
	Voice       string
}

type RetryConfig struct {
	Retries   int
	BaseDelay time.Duration
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Models returns every configured model name.
func (g GeminiConfig) Models() []string {
	return []string{g.TextModel, g.ImageModel, g.EditModel, g.SpeechModel}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Gemini: GeminiConfig{
			TextModel:   "gemini-2.5-flash",
			ImageModel:  "imagen-4.0-generate-001",
			EditModel:   "gemini-2.5-flash-image",
			SpeechModel: "gemini-2.5-flash-preview-tts",
			Voice:       "Kore",
		},
		Retry: RetryConfig{
			Retries:   3,
			BaseDelay: 2 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			PollInterval: 500 * time.Millisecond,
		},
	}
}

const (
	secretService  = "kidsworld"
	accountAPIKey  = "gemini_api_key"
	accountToken   = "api_token"
	envGeminiKey   = "KIDSWORLD_GEMINI_API_KEY"
	envServerToken = "KIDSWORLD_API_TOKEN"
)

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kidsworld.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kidsworld/config.json
// and secrets fall back to $XDG_DATA_HOME/kidsworld/secrets.json.
//
// Environment variables (KIDSWORLD_*) override backend values on all platforms.
// A missing Gemini API key is an error.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{}, true)
}

// LoadClient is Load without the Gemini API key requirement, for commands
// that only talk to a running server.
func LoadClient() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{}, false)
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc keychain, requireAPIKey bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API key if still empty.
	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(secretService, accountAPIKey); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if requireAPIKey && cfg.Gemini.APIKey == "" {
		msg := "missing required config: Gemini API key. " +
			"Set it via environment variable " + envGeminiKey +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	token, err := ensureToken(kc)
	if err != nil {
		return Config{}, err
	}
	cfg.Server.Token = token

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ensureToken returns the API bearer token, generating and storing one on
// first use. KIDSWORLD_API_TOKEN overrides the stored value.
func ensureToken(kc keychain) (string, error) {
	if t := getenv(envServerToken); t != "" {
		return t, nil
	}
	t, err := kc.Get(secretService, accountToken)
	if err == nil && t != "" {
		return t, nil
	}
	// Only a missing token is replaced; an unreadable store must not lose it.
	if err != nil && !errors.Is(err, errSecretNotFound) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := kc.Set(secretService, accountToken, token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Retry.Retries < 0 {
		return fmt.Errorf("invalid retry.retries %d", c.Retry.Retries)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("invalid retry.base_delay %s", c.Retry.BaseDelay)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("invalid worker.concurrency %d", c.Worker.Concurrency)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level %q (debug, info, warn, error)", c.Log.Level)
	}
	return nil
}

// keychainStore reads and writes the platform secret store.
type keychainStore struct{}

func (keychainStore) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return trimSecret(out), nil
}

func (keychainStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
