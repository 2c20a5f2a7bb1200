package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultDataDir returns the canonical data directory: $MEMORYD_DATA_DIR, or
// ~/.memoryd when unset.
func DefaultDataDir() string {
	if v := os.Getenv("MEMORYD_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memoryd"
	}
	return filepath.Join(home, ".memoryd")
}

// settingsPath returns the flat key-value settings file under dataDir.
func settingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings.json")
}

// envKey pairs a canonical environment variable with its deprecated alias.
type envKey struct {
	canonical string
	legacy    string
}

var deprecationWarned sync.Map // key: legacy env name -> struct{}

// resolveSetting implements the precedence from spec.md §6/§9: canonical env
// var, then legacy env var (logging a one-shot deprecation warning), then the
// settings file, then the supplied default.
func resolveSetting(k envKey, settingsFile map[string]string, def string) string {
	if v := os.Getenv(k.canonical); v != "" {
		return v
	}
	if k.legacy != "" {
		if v := os.Getenv(k.legacy); v != "" {
			if _, warned := deprecationWarned.LoadOrStore(k.legacy, struct{}{}); !warned {
				log.Warn().Str("legacy_env", k.legacy).Str("canonical_env", k.canonical).
					Msg("deprecated environment variable in use; prefer the canonical name")
			}
			return v
		}
	}
	if settingsFile != nil {
		if v, ok := settingsFile[k.canonical]; ok && v != "" {
			return v
		}
	}
	return def
}

// loadSettingsFile reads the flat key-value settings file, auto-flattening a
// legacy nested schema (nested objects at any depth, keys joined with '.')
// on read, per spec.md §6. Missing file is not an error.
func loadSettingsFile(dataDir string) (map[string]string, error) {
	path := settingsPath(dataDir)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return flattenSettings("", raw), nil
}

func flattenSettings(prefix string, raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			for nk, nv := range flattenSettings(key, t) {
				out[nk] = nv
			}
		case string:
			out[key] = t
		case bool:
			out[key] = strconv.FormatBool(t)
		case float64:
			out[key] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			if b, err := json.Marshal(t); err == nil {
				out[key] = string(b)
			}
		}
	}
	return out
}

// saveSettingsFile persists the flat key-value map as the canonical settings
// file, creating dataDir if needed.
func saveSettingsFile(dataDir string, settings map[string]string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(dataDir), b, 0o600)
}

// Load resolves the full process configuration: defaults, overlaid by the
// settings file, overlaid by environment variables (canonical wins over
// legacy, which wins over the file).
func Load() (Config, error) {
	cfg := Default()
	dataDir := resolveSetting(envKey{"MEMORYD_DATA_DIR", "CODEXMEM_DATA_DIR"}, nil, cfg.DataDir)
	settings, err := loadSettingsFile(dataDir)
	if err != nil {
		return Config{}, err
	}
	cfg.DataDir = dataDir
	cfg.Host = resolveSetting(envKey{"MEMORYD_HOST", "CODEXMEM_HOST"}, settings, cfg.Host)
	cfg.Port = atoiDefault(resolveSetting(envKey{"MEMORYD_PORT", "CODEXMEM_PORT"}, settings, strconv.Itoa(cfg.Port)), cfg.Port)
	cfg.Provider = resolveSetting(envKey{"MEMORYD_PROVIDER", "CODEXMEM_PROVIDER"}, settings, cfg.Provider)
	cfg.FallbackPolicy = resolveSetting(envKey{"MEMORYD_FALLBACK_POLICY", "CODEXMEM_FALLBACK"}, settings, cfg.FallbackPolicy)
	cfg.ModeName = resolveSetting(envKey{"MEMORYD_MODE", ""}, settings, cfg.ModeName)

	cfg.Anthropic.APIKey = resolveSetting(envKey{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"}, settings, cfg.Anthropic.APIKey)
	cfg.Anthropic.BaseURL = resolveSetting(envKey{"ANTHROPIC_BASE_URL", ""}, settings, cfg.Anthropic.BaseURL)
	cfg.Anthropic.Model = resolveSetting(envKey{"MEMORYD_ANTHROPIC_MODEL", "CODEXMEM_MODEL"}, settings, cfg.Anthropic.Model)

	cfg.LocalHTTP.BaseURL = resolveSetting(envKey{"MEMORYD_LOCAL_BASE_URL", "CODEXMEM_LOCAL_BASE_URL"}, settings, cfg.LocalHTTP.BaseURL)
	cfg.LocalHTTP.Model = resolveSetting(envKey{"MEMORYD_LOCAL_MODEL", ""}, settings, cfg.LocalHTTP.Model)

	cfg.CLI.Binary = resolveSetting(envKey{"MEMORYD_CLI_BINARY", "CODEXMEM_CLI_BIN"}, settings, cfg.CLI.Binary)
	cfg.CLI.ReasoningEffort = resolveSetting(envKey{"MEMORYD_CLI_REASONING_EFFORT", ""}, settings, cfg.CLI.ReasoningEffort)

	cfg.DB.DefaultDSN = resolveSetting(envKey{"MEMORYD_DB_DSN", "CODEXMEM_DB_DSN"}, settings, cfg.DB.DefaultDSN)
	cfg.DB.Search.Backend = resolveSetting(envKey{"MEMORYD_SEARCH_BACKEND", ""}, settings, cfg.DB.Search.Backend)
	cfg.DB.Vector.Backend = resolveSetting(envKey{"MEMORYD_VECTOR_BACKEND", ""}, settings, cfg.DB.Vector.Backend)
	cfg.DB.Vector.DSN = resolveSetting(envKey{"MEMORYD_VECTOR_DSN", ""}, settings, cfg.DB.Vector.DSN)
	cfg.DB.Vector.Collection = resolveSetting(envKey{"MEMORYD_VECTOR_COLLECTION", ""}, settings, "memoryd")

	cfg.Embedding.BaseURL = resolveSetting(envKey{"MEMORYD_EMBEDDING_BASE_URL", ""}, settings, cfg.Embedding.BaseURL)
	cfg.Embedding.Model = resolveSetting(envKey{"MEMORYD_EMBEDDING_MODEL", ""}, settings, cfg.Embedding.Model)
	cfg.Embedding.APIKey = resolveSetting(envKey{"MEMORYD_EMBEDDING_API_KEY", ""}, settings, cfg.Embedding.APIKey)

	cfg.Ingestion.RedisURL = resolveSetting(envKey{"MEMORYD_REDIS_URL", "REDIS_URL"}, settings, cfg.Ingestion.RedisURL)

	cfg.Obs.OTLP = resolveSetting(envKey{"MEMORYD_OTLP_ENDPOINT", ""}, settings, cfg.Obs.OTLP)
	cfg.Obs.ServiceName = resolveSetting(envKey{"MEMORYD_SERVICE_NAME", ""}, settings, "memoryd")
	cfg.Obs.ServiceVersion = resolveSetting(envKey{"MEMORYD_SERVICE_VERSION", ""}, settings, "dev")
	cfg.Obs.Environment = resolveSetting(envKey{"MEMORYD_ENVIRONMENT", ""}, settings, "local")

	return cfg, nil
}

func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

// sensitiveSettingKeys names settings whose GET /settings representation must
// be masked, per spec.md's testable property on API-key-like settings.
var sensitiveSettingKeys = map[string]bool{
	"MEMORYD_ANTHROPIC_API_KEY": true,
	"ANTHROPIC_API_KEY":         true,
	"MEMORYD_EMBEDDING_API_KEY": true,
	"MEMORYD_LOCAL_API_KEY":     true,
}

// MaskSecret implements the masking sentinel: a fixed prefix followed by at
// most the last four characters of the original value.
func MaskSecret(v string) string {
	const sentinel = "***masked***"
	if len(v) <= 4 {
		return sentinel
	}
	return sentinel + v[len(v)-4:]
}

// IsSensitiveKey reports whether a settings key must be masked on read.
func IsSensitiveKey(key string) bool {
	return sensitiveSettingKeys[key]
}

// SaveSettings overlays the provided key-value pairs onto the settings file.
// There is no in-memory settings cache: an already-loaded Config is not
// updated, and saved values take effect on the next Load.
func SaveSettings(dataDir string, updates map[string]string) error {
	existing, err := loadSettingsFile(dataDir)
	if err != nil {
		return err
	}
	for k, v := range updates {
		existing[k] = v
	}
	return saveSettingsFile(dataDir, existing)
}
