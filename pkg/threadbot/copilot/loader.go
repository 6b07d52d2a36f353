// Package copilot – loader.go handles loading configuration from YAML files
// with credentials coming from the environment and .env files.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables consulted for secrets, in priority order.
var (
	apiKeyEnvVars   = []string{"THREADBOT_API_KEY", "OPENAI_API_KEY"}
	botTokenEnvVars = []string{"TELEGRAM_BOT_TOKEN", "TG_KEY"}
)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Returns an error if any ${VAR:?error} pattern has its variable unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// LoadConfig loads the config at path, or discovers one. With no file at
// all, defaults plus environment secrets are returned.
func LoadConfig(path string) (*Config, string, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		resolveSecrets(cfg)
		return cfg, "", nil
	}
	cfg, err := LoadConfigFromFile(path)
	return cfg, path, err
}

// ParseConfig parses YAML bytes into a Config, starting from defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML. Secrets that came from the
// environment are written back as references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, apiKeyEnvVars)
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, botTokenEnvVars)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"threadbot.yaml",
		"threadbot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about secrets hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if looksLikeRealKey(cfg.API.APIKey) && !fromEnv(cfg.API.APIKey, apiKeyEnvVars) {
		logger.Warn("API key appears to be hardcoded in config. Use OPENAI_API_KEY or the keyring instead.",
			"hint", "threadbot config set-key openai")
	}
	if looksLikeRealKey(cfg.Channels.Telegram.Token) && !fromEnv(cfg.Channels.Telegram.Token, botTokenEnvVars) {
		logger.Warn("Telegram token appears to be hardcoded in config. Use TELEGRAM_BOT_TOKEN or the keyring instead.",
			"hint", "threadbot config set-key telegram")
	}
}

// Validate checks that the settings required to serve are present.
func (c *Config) Validate() error {
	var missing []string
	if c.API.APIKey == "" || IsEnvReference(c.API.APIKey) {
		missing = append(missing, "api.api_key")
	}
	if c.API.AssistantID == "" {
		missing = append(missing, "api.assistant_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config incomplete: %s required", strings.Join(missing, ", "))
	}
	return nil
}

// ---------- Internal ----------

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR
// references. Unset plain references are kept as placeholders.
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Groups: 1=varName, 2=modifier(-|?), 3=value, 4=bareVar
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if val, ok := os.LookupEnv(bare); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("config error: %s - %s", name, value)
			}
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// resolveSecrets fills in secrets from environment variables when the
// config value is empty or an unresolved placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if v := firstEnv(apiKeyEnvVars); v != "" {
			cfg.API.APIKey = v
		}
	}
	if cfg.Channels.Telegram.Token == "" || IsEnvReference(cfg.Channels.Telegram.Token) {
		if v := firstEnv(botTokenEnvVars); v != "" {
			cfg.Channels.Telegram.Token = v
		}
	}
	if cfg.API.AssistantID == "" {
		cfg.API.AssistantID = os.Getenv("OPENAI_ASSISTANT_ID")
	}
}

// resolveRelativePaths makes state paths relative to the config file's
// directory, so the bot behaves the same from any working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)
	cfg.StateDir = resolvePathFromConfig(cfg.StateDir, configDir)
	cfg.Media.ScratchDir = resolvePathFromConfig(cfg.Media.ScratchDir, configDir)
	cfg.Scheduler.Storage = resolvePathFromConfig(cfg.Scheduler.Storage, configDir)
}

// resolvePathFromConfig expands ~ and anchors relative paths at configDir.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

func firstEnv(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func fromEnv(value string, names []string) bool {
	for _, n := range names {
		if v := os.Getenv(n); v != "" && v == value {
			return true
		}
	}
	return false
}

// sanitizeSecret replaces a secret that matches one of the environment
// variables with a reference to it.
func sanitizeSecret(value string, envVars []string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, n := range envVars {
		if os.Getenv(n) == value {
			return "${" + n + "}"
		}
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real
// credential rather than a placeholder.
func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	if strings.HasPrefix(s, "sk-") {
		return true
	}
	// Bot tokens look like 123456:ABC-DEF...
	if i := strings.Index(s, ":"); i > 0 && len(s) > 30 {
		return true
	}
	return len(s) > 20
}

// checkFilePermissions warns if the config file is group or world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
