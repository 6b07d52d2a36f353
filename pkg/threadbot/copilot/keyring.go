// Package copilot – keyring.go stores credentials in the operating system's
// keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential
// Manager).
//
// Priority for resolving secrets:
//  1. OS keyring
//  2. Environment variable (OPENAI_API_KEY, TELEGRAM_BOT_TOKEN, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value
package copilot

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "threadbot"

	// KeyringAPIKey holds the OpenAI API key.
	KeyringAPIKey = "openai_api_key"

	// KeyringBotToken holds the Telegram bot token.
	KeyringBotToken = "telegram_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveSecrets overrides config credentials with keyring values when
// present, and warns about anything still missing.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if val := GetKeyring(KeyringAPIKey); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
	} else if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found. Set one with: threadbot config set-key openai")
	}

	if val := GetKeyring(KeyringBotToken); val != "" {
		cfg.Channels.Telegram.Token = val
		logger.Debug("Telegram token loaded from OS keyring")
	}
}

// ReadSecret prompts for a secret without echo. Piped input is read as a
// plain line.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
