package observe

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process-wide slog handler.
type LogConfig struct {
	// FilePath, if set, routes logs through a rotating lumberjack writer
	// instead of stdout — the production setting; tests and local runs
	// leave this empty.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	JSON       bool
}

// InitLogging builds and installs the process-wide slog.Default logger,
// grounded on the `gopkg.in/natefinch/lumberjack.v2` rotation declared in
// the kylesean-asr_server manifest, paired with log/slog (the teacher's own
// logging library) rather than introducing a second one.
func InitLogging(cfg LogConfig) {
	var w = os.Stdout
	var handler slog.Handler

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		handler = slog.NewJSONHandler(lj, nil)
	} else if cfg.JSON {
		handler = slog.NewJSONHandler(w, nil)
	} else {
		handler = slog.NewTextHandler(w, nil)
	}

	slog.SetDefault(slog.New(handler))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
