// FILE: srpauth/src/cmd/srpauth/commands/logger.go
package commands

import (
	"fmt"
	"strings"

	"srpauth/src/internal/config"

	"github.com/lixenwraith/log"
)

// newLogger creates and starts the application logger.
func newLogger(cfg *config.LogConfig, quiet bool) (*log.Logger, error) {
	args, err := loggerArgs(cfg, quiet)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger()
	if err := logger.InitWithDefaults(args...); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// loggerArgs translates the logging section into log package overrides.
func loggerArgs(cfg *config.LogConfig, quiet bool) ([]string, error) {
	if quiet {
		return []string{
			"disable_file=true",
			"enable_stdout=false",
			"level=255",
		}, nil
	}
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}

	levelValue, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	configArgs := []string{fmt.Sprintf("level=%d", levelValue)}

	switch cfg.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout", "stderr":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target="+cfg.Output)

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configArgs = appendFileArgs(configArgs, cfg.File)

	case "both":
		configArgs = append(configArgs, "enable_stdout=true")
		configArgs = appendFileArgs(configArgs, cfg.File)
		configArgs = appendConsoleTarget(configArgs, cfg.Console)

	default:
		return nil, fmt.Errorf("invalid log output mode: %s", cfg.Output)
	}

	if cfg.Console != nil && cfg.Console.Format != "" {
		configArgs = append(configArgs, "format="+cfg.Console.Format)
	}

	return configArgs, nil
}

func appendFileArgs(configArgs []string, file *config.LogFileConfig) []string {
	if file == nil {
		return configArgs
	}
	configArgs = append(configArgs,
		fmt.Sprintf("directory=%s", file.Directory),
		fmt.Sprintf("name=%s", file.Name),
		fmt.Sprintf("max_size_mb=%d", file.MaxSizeMB),
		fmt.Sprintf("max_total_size_mb=%d", file.MaxTotalSizeMB))

	if file.RetentionHours > 0 {
		configArgs = append(configArgs,
			fmt.Sprintf("retention_period_hrs=%.1f", file.RetentionHours))
	}
	return configArgs
}

func appendConsoleTarget(configArgs []string, console *config.LogConsoleConfig) []string {
	target := "stderr"
	if console != nil && console.Target != "" {
		target = console.Target
	}

	if target == "split" {
		return append(configArgs, "stdout_split_mode=true", "stdout_target=split")
	}
	return append(configArgs, "stdout_target="+target)
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
