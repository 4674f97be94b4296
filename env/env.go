package env

import (
	"os"
	"strings"

	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns a list of EnvLine structs.
// A missing file is not an error.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []EnvLine{}, nil
		}
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	return ParseEnvBuffer(buf), nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=VALUE line, removing surrounding quotes and an
// optional leading "export ".
func ProcessEnvLine(line string) EnvLine {
	line = strings.TrimPrefix(strings.TrimSpace(line), "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// ParseEnvBuffer parses KEY=VALUE lines, skipping blanks and comments.
// ${NAME} references resolve against earlier lines, then the OS environment.
func ParseEnvBuffer(buf []byte) []EnvLine {
	envs := make([]EnvLine, 0)
	seen := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		el := ProcessEnvLine(line)
		if el.Key == "" {
			continue
		}
		el.Val = os.Expand(el.Val, func(name string) string {
			if v, ok := seen[name]; ok {
				return v
			}
			return os.Getenv(name)
		})
		seen[el.Key] = el.Val
		envs = append(envs, el)
	}
	return envs
}

// LoadEnvFile applies the file's values to the process environment without
// overriding variables that are already set. It returns how many were applied.
func LoadEnvFile(filename string) (int, error) {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return 0, err
	}
	var count int
	for _, el := range envs {
		if _, ok := os.LookupEnv(el.Key); ok {
			continue
		}
		if err := os.Setenv(el.Key, el.Val); err != nil {
			return count, errors.Wrapf(err, "setting %s", el.Key)
		}
		count++
	}
	return count, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if cmd != nil {
		if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
			return flagValue
		}
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then RECOMMEND_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
}

// NewLogger returns a logger honoring the --log-level and --json-logs flags.
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	if cmd != nil {
		if jsonLogs, err := cmd.Flags().GetBool("json-logs"); err == nil && jsonLogs {
			return logger.NewJSONLogger(level)
		}
	}
	return logger.NewConsoleLogger(level)
}
