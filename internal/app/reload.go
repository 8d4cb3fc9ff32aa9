package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/omnillm/internal/config"
)

// Apply switches the running App to next. Provider changes rebuild the
// provider set as a whole; in-flight calls keep the set they started with.
// Settings bound at startup are reported and left alone.
//
// When the rebuild fails the previous configuration stays active.
func (a *App) Apply(next *config.Config) (config.ConfigDiff, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	prev := a.cfg.Load()
	d := config.Diff(prev, next)

	if d.RebuildRequired() {
		set, err := a.buildProviders(next)
		if err != nil {
			return d, fmt.Errorf("app: apply config: %w", err)
		}
		a.set.Store(set)
		for _, pd := range d.ProviderChanges {
			slog.Info("provider reloaded",
				"name", pd.Name,
				"added", pd.Added,
				"removed", pd.Removed,
				"model_changed", pd.ModelChanged,
				"credentials_changed", pd.CredentialsChanged,
			)
		}
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}

	a.cfg.Store(next)
	return d, nil
}

// LevelFor maps a configured log level onto slog.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
