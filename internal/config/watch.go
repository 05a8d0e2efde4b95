package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// reloadDebounce coalesces the burst of events editors produce on save.
var reloadDebounce = 200 * time.Millisecond

// Watch starts watching the config file and returns once the watch is in
// place. Each change is loaded, validated and, when it differs from the
// current config, stored with Set before the RegisterOnReload callbacks run.
// Changes after ctx ends are ignored.
func Watch(ctx context.Context, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config %s: %w", path, err)
	}

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		sections := Changed(Get(), cfg)
		if len(sections) == 0 {
			return
		}
		Set(cfg)
		slog.Info("config reloaded", "path", path, "sections", sections)
		notifyReload(cfg)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(reloadDebounce, reload)
	})
	v.WatchConfig()

	go func() {
		<-ctx.Done()
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()
	return nil
}

// Changed lists the top-level sections that differ between two configs.
// A nil old config counts as every section changed.
func Changed(old, cfg *Config) []string {
	sections := []struct {
		name     string
		old, cur any
	}{
		{"backend", nil, cfg.Backend},
		{"stream", nil, cfg.Stream},
		{"attachments", nil, cfg.Attachments},
		{"gateway", nil, cfg.Gateway},
	}
	if old != nil {
		sections[0].old = old.Backend
		sections[1].old = old.Stream
		sections[2].old = old.Attachments
		sections[3].old = old.Gateway
	}
	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.cur) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
