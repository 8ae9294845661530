package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"
)

// FacilitiesWatcher reloads facilities.yaml whenever its content changes.
// A file that fails to parse or validate is reported and the previous
// configuration stays in effect.
type FacilitiesWatcher struct {
	path     string
	onUpdate func(*FacilitiesConfig)
	digest   [sha256.Size]byte
	loaded   bool
}

func NewFacilitiesWatcher(path string, onUpdate func(*FacilitiesConfig)) *FacilitiesWatcher {
	if path == "" {
		path = "configs/facilities.yaml"
	}
	return &FacilitiesWatcher{path: path, onUpdate: onUpdate}
}

// Poll reads the file once and calls onUpdate if the content differs from the
// last accepted version. It reports whether onUpdate ran.
func (w *FacilitiesWatcher) Poll() (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("read facilities config: %w", err)
	}

	sum := sha256.Sum256(data)
	if w.loaded && sum == w.digest {
		return false, nil
	}

	cfg, err := parseFacilitiesConfig(data)
	if err != nil {
		return false, err
	}
	w.digest, w.loaded = sum, true
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	return true, nil
}

// WatchFacilities applies facilities.yaml once, then keeps polling it in the
// background until ctx is done. The initial load error is returned; later
// reload errors go to onError.
func WatchFacilities(ctx context.Context, path string, interval time.Duration,
	onUpdate func(*FacilitiesConfig), onError func(error)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w := NewFacilitiesWatcher(path, onUpdate)
	if _, err := w.Poll(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Poll(); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}
