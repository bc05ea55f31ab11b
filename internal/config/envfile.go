package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// credentialAliases maps secrets to the conventional variable names that
// fill them when neither the config file nor a TENKA_* override did.
var credentialAliases = []struct {
	env   []string
	field func(*Config) *string
}{
	{[]string{"OPENAI_API_KEY"}, func(c *Config) *string { return &c.Providers.OpenAI.APIKey }},
	{[]string{"OPENROUTER_API_KEY"}, func(c *Config) *string { return &c.Providers.OpenRouter.APIKey }},
	{[]string{"TAVILY_API_KEY"}, func(c *Config) *string { return &c.Tools.Search.APIKey }},
	{[]string{"SLACK_BOT_TOKEN"}, func(c *Config) *string { return &c.Slack.BotToken }},
	{[]string{"SLACK_APP_TOKEN"}, func(c *Config) *string { return &c.Slack.AppToken }},
}

func applyCredentialAliases(cfg *Config) {
	for _, a := range credentialAliases {
		dst := a.field(cfg)
		if *dst != "" {
			continue
		}
		for _, name := range a.env {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				*dst = v
				break
			}
		}
	}
}

// envFiles lists dotenv files in priority order: TENKA_ENV_FILE, then
// ~/.tenka/env, then .env in the working directory.
func envFiles() []string {
	var files []string
	if explicit := strings.TrimSpace(os.Getenv("TENKA_ENV_FILE")); explicit != "" {
		if p, err := expandHomePath(explicit); err == nil {
			files = append(files, p)
		}
	}
	if home, err := resolveHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ConfigDir, "env"))
	}
	return append(files, ".env")
}

// LoadEnvFiles exports the variables of every existing env file and
// returns the files it read. The process environment and files earlier in
// the list take precedence.
func LoadEnvFiles() []string {
	var read []string
	for _, path := range envFiles() {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		vars, err := parseEnv(f)
		f.Close()
		if err != nil {
			continue
		}
		for k, v := range vars {
			if _, set := os.LookupEnv(k); !set {
				_ = os.Setenv(k, v)
			}
		}
		read = append(read, path)
	}
	return read
}

// parseEnv reads KEY=VALUE lines. Double-quoted values take Go escapes,
// single-quoted values are literal and unquoted values stop at " #".
func parseEnv(r io.Reader) (map[string]string, error) {
	vars := map[string]string{}
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		val, err := envValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		vars[key] = val
	}
	return vars, sc.Err()
}

func envValue(raw string) (string, error) {
	switch {
	case len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"':
		v, err := strconv.Unquote(raw)
		if err != nil {
			return "", fmt.Errorf("bad quoted value %s", raw)
		}
		return v, nil
	case len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'':
		return raw[1 : len(raw)-1], nil
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw, nil
}
