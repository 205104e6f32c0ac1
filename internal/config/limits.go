package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/risk"
)

// LimitsFile is the on-disk shape of the risk limits document
type LimitsFile struct {
	OrderLimits risk.RiskLimitsConfig    `yaml:"order_limits"`
	Strategies  []risk.StrategyRiskConfig `yaml:"strategies"`
	LotSizes    map[string]int            `yaml:"lot_sizes"`
}

// LoadLimits parses the YAML risk limits file
func LoadLimits(path string) (*LimitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits file %s: %w", path, err)
	}

	var limits LimitsFile
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("failed to parse limits file %s: %w", path, err)
	}

	limits.OrderLimits.ApplyDefaults()
	for i := range limits.Strategies {
		limits.Strategies[i].ApplyDefaults()
		if err := limits.Strategies[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid strategy config in %s: %w", path, err)
		}
	}

	return &limits, nil
}

// WatchLimits reloads the limits file whenever it changes on disk and
// hands the parsed result to onReload. A file that fails to parse is
// logged and skipped; the previous limits stay in force.
func WatchLimits(path string, log *logger.Logger, onReload func(*LimitsFile)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create limits watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops
	// a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch limits directory: %w", err)
	}

	go func() {
		target := filepath.Clean(path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				limits, err := LoadLimits(path)
				if err != nil {
					log.Error("Limits reload skipped: %v", err)
					continue
				}
				log.Info("Risk limits file reloaded: %s", path)
				onReload(limits)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("Limits watcher error: %v", err)
			}
		}
	}()

	return watcher, nil
}
