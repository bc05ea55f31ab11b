package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".tenka"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
// TENKA_CONFIG wins over TENKA_HOME, which wins over the user home directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TENKA_CONFIG")); explicit != "" {
		return expandHomePath(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TENKA_HOME")); h != "" {
		return expandHomePath(h)
	}
	return os.UserHomeDir()
}

func expandHomePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFiles()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyCredentialAliases(cfg)

	if p, err := expandHomePath(cfg.Timeline.DBPath); err == nil {
		cfg.Timeline.DBPath = p
	}

	normalize(cfg)
	return cfg, nil
}

// applyEnv overrides each config group from TENKA_* environment variables.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"TENKA_MODEL", &cfg.Model},
		{"TENKA_OPENAI", &cfg.Providers.OpenAI},
		{"TENKA_OPENROUTER", &cfg.Providers.OpenRouter},
		{"TENKA_ROUTER", &cfg.Router},
		{"TENKA_GATEWAY", &cfg.Gateway},
		{"TENKA_TIMELINE", &cfg.Timeline},
		{"TENKA_KAFKA", &cfg.Kafka},
		{"TENKA_SLACK", &cfg.Slack},
		{"TENKA_TOOLS", &cfg.Tools},
		{"TENKA_TOOLS", &cfg.Tools.Search},
		{"TENKA_LOGGING", &cfg.Logging},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}
	return nil
}

// normalize clamps values that would otherwise break the router.
func normalize(cfg *Config) {
	def := DefaultConfig()

	if cfg.Router.LowConfidence < 0 || cfg.Router.LowConfidence > 1 {
		cfg.Router.LowConfidence = def.Router.LowConfidence
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Router.ModeSwitchPolicy)) {
	case PolicySilent:
		cfg.Router.ModeSwitchPolicy = PolicySilent
	default:
		cfg.Router.ModeSwitchPolicy = PolicyConsent
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Router.ConsentJudge)) {
	case JudgeLLM, JudgeKeyword:
		cfg.Router.ConsentJudge = strings.ToLower(strings.TrimSpace(cfg.Router.ConsentJudge))
	default:
		cfg.Router.ConsentJudge = JudgeHybrid
	}
	if cfg.Router.HistoryMessages <= 0 {
		cfg.Router.HistoryMessages = def.Router.HistoryMessages
	}
	if cfg.Router.HistoryMessageChars <= 0 {
		cfg.Router.HistoryMessageChars = def.Router.HistoryMessageChars
	}
	if cfg.Router.HistoryChars <= 0 {
		cfg.Router.HistoryChars = def.Router.HistoryChars
	}
	if cfg.Model.MaxToolIterations <= 0 {
		cfg.Model.MaxToolIterations = def.Model.MaxToolIterations
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if strings.TrimSpace(cfg.Kafka.Topic) == "" {
		cfg.Kafka.Topic = def.Kafka.Topic
	}
	if cfg.Tools.Search.MaxResults <= 0 {
		cfg.Tools.Search.MaxResults = def.Tools.Search.MaxResults
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// substituteEnvValues replaces ${VAR} references in string values. Unknown
// variables are left untouched.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
