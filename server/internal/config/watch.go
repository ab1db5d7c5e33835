package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the file must stay quiet before it is reloaded.
// Editors and truncating writes emit several events per save.
const reloadDebounce = 250 * time.Millisecond

// Changes lists the settings that differ between two configs, split by
// whether the running service applies them without a restart.
type Changes struct {
	Live    []string
	Restart []string
}

// Diff compares prev and next. Live settings are log.level, refresh.interval
// and the server.rate_limit budgets.
func Diff(prev, next *Config) Changes {
	var c Changes
	live := func(name string, changed bool) {
		if changed {
			c.Live = append(c.Live, name)
		}
	}
	restart := func(name string, changed bool) {
		if changed {
			c.Restart = append(c.Restart, name)
		}
	}

	pr, nr := prev.Server.RateLimit, next.Server.RateLimit
	live("log.level", prev.Log.SlogLevel() != next.Log.SlogLevel())
	live("refresh.interval", prev.Refresh.Interval != next.Refresh.Interval)
	live("server.rate_limit", pr.Enabled != nr.Enabled || pr.DefaultPerMinute != nr.DefaultPerMinute || pr.QueryPerSecond != nr.QueryPerSecond)

	restart("log.format", prev.Log.Format != next.Log.Format)
	restart("server.http_port", prev.Server.HTTPPort != next.Server.HTTPPort)
	restart("server.auth", prev.Server.Auth != next.Server.Auth)
	restart("server.rate_limit.idle_ttl", pr.IdleTTL != nr.IdleTTL)
	restart("server.stream", prev.Server.Stream != next.Server.Stream)
	restart("upstream", prev.Upstream != next.Upstream)
	restart("alerts", !reflect.DeepEqual(prev.Alerts, next.Alerts))
	return c
}

// Watch reloads path after it changes and calls onChange with the new Config
// when a live setting differs from the last loaded one. current is the
// config the service started with; nil means the defaults.
//
// The parent directory is watched so that saves which replace the file
// (write to temp, then rename) are seen. A reload that fails to parse or
// validate is logged and the previous config stays in effect. Changes to
// restart-only settings are logged once and otherwise ignored.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	prev := current
	if prev == nil {
		prev = defaults()
	}

	slog.Info("config: watching for changes", "path", path)

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}

			changes := Diff(prev, next)
			prev = next
			for _, name := range changes.Restart {
				slog.Warn("config: setting changed, restart to apply", "setting", name)
			}
			if len(changes.Live) == 0 {
				slog.Debug("config: reloaded, nothing to apply", "path", path)
				continue
			}

			slog.Info("config: reloaded", "path", path, "applied", changes.Live)
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
