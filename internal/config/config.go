// Package config loads chatsync configuration from jsonc files and
// environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr,omitempty"`
	// DataDir is the root of the file storage.
	DataDir string `json:"dataDir,omitempty"`
	// JWTSecret signs and verifies handshake tokens.
	JWTSecret string `json:"jwtSecret,omitempty"`
	// LogLevel is DEBUG, INFO, WARN, ERROR or FATAL.
	LogLevel string `json:"logLevel,omitempty"`
	// LogPretty enables human-readable console output.
	LogPretty bool `json:"logPretty,omitempty"`

	Provider ProviderConfig `json:"provider,omitempty"`
}

// ProviderConfig configures the completion provider. An empty APIKey makes
// the server fall back to the scripted provider, which keeps local
// development working without credentials.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		DataDir:  defaultDataDir(),
		LogLevel: "INFO",
		Provider: ProviderConfig{
			Model:     "gpt-4o-mini",
			MaxTokens: 4096,
		},
	}
}

func defaultDataDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "chatsync")
	}
	return "data"
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/chatsync/chatsync.json[c])
// 2. Project config (<directory>/chatsync.json[c])
// 3. CHATSYNC_CONFIG file override
// 4. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		globalDir := filepath.Join(home, ".config", "chatsync")
		loadOnce(filepath.Join(globalDir, "chatsync.json"), globalDir)
		loadOnce(filepath.Join(globalDir, "chatsync.jsonc"), globalDir)
	}

	if directory != "" {
		loadOnce(filepath.Join(directory, "chatsync.json"), directory)
		loadOnce(filepath.Join(directory, "chatsync.jsonc"), directory)
	}

	if configPath := os.Getenv("CHATSYNC_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	merge(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(strings.TrimSpace(string(content)), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		return escaped
	})

	return []byte(str)
}

// merge merges source config into target; empty source fields keep the
// target's value.
func merge(target, source *Config) {
	if source.Addr != "" {
		target.Addr = source.Addr
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.JWTSecret != "" {
		target.JWTSecret = source.JWTSecret
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogPretty {
		target.LogPretty = true
	}
	if source.Provider.APIKey != "" {
		target.Provider.APIKey = source.Provider.APIKey
	}
	if source.Provider.BaseURL != "" {
		target.Provider.BaseURL = source.Provider.BaseURL
	}
	if source.Provider.Model != "" {
		target.Provider.Model = source.Provider.Model
	}
	if source.Provider.MaxTokens != 0 {
		target.Provider.MaxTokens = source.Provider.MaxTokens
	}
}

// applyEnvOverrides applies environment variable overrides, the highest
// priority source.
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("CHATSYNC_ADDR"); addr != "" {
		config.Addr = addr
	}
	if dir := os.Getenv("CHATSYNC_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if secret := os.Getenv("CHATSYNC_JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}
	if level := os.Getenv("CHATSYNC_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Provider.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Provider.BaseURL = baseURL
	}
	if model := os.Getenv("CHATSYNC_MODEL"); model != "" {
		config.Provider.Model = model
	}
	if maxTokens := os.Getenv("CHATSYNC_MAX_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil && n > 0 {
			config.Provider.MaxTokens = n
		}
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
