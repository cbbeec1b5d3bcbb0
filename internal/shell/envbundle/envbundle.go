// Package envbundle materializes a service's environment bundle from the
// cluster config store onto local disk for the span of one deployment.
package envbundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
)

// ConfigStore is the slice of the runtime client the provisioner needs.
type ConfigStore interface {
	FetchConfigEntry(ctx context.Context, key string) (string, error)
}

// ConfigFetchError is returned when a bundle is missing or undecodable.
type ConfigFetchError struct {
	Key string
	Err error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("environment bundle %s: %v", e.Key, e.Err)
}

func (e *ConfigFetchError) Unwrap() error {
	return e.Err
}

// Is matches deployment.ErrConfigFetch.
func (e *ConfigFetchError) Is(target error) bool {
	return target == deployment.ErrConfigFetch
}

// Handle is a materialized bundle. Release removes the file.
type Handle struct {
	Key  string
	Path string
	Vars map[string]string

	once sync.Once
	err  error
}

// Release removes the bundle file. It is idempotent and safe on a nil handle.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("failed to remove environment bundle %s: %w", h.Path, err)
		}
	})
	return h.err
}

// Config configures the provisioner.
type Config struct {
	// WorkDir is where bundle files are written. Default: os.TempDir().
	WorkDir string

	// KeySuffix is appended to the service name to form the config key.
	// Default: "_env".
	KeySuffix string
}

// Provisioner fetches and materializes environment bundles.
type Provisioner struct {
	store  ConfigStore
	config Config
	logger *slog.Logger
}

// NewProvisioner creates a new provisioner.
func NewProvisioner(store ConfigStore, config Config, logger *slog.Logger) *Provisioner {
	if config.KeySuffix == "" {
		config.KeySuffix = deployment.DefaultEnvKeySuffix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:  store,
		config: config,
		logger: logger.With("component", "envbundle"),
	}
}

// Key returns the config key holding the bundle for service.
func (p *Provisioner) Key(service string) string {
	return deployment.EnvConfigKey(service, p.config.KeySuffix)
}

// Materialize fetches the bundle for service, writes it to a private file and
// parses it. On failure no file is left behind.
func (p *Provisioner) Materialize(ctx context.Context, service string) (*Handle, error) {
	key := p.Key(service)

	payload, err := p.store.FetchConfigEntry(ctx, key)
	if err != nil {
		return nil, &ConfigFetchError{Key: key, Err: err}
	}

	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, &ConfigFetchError{Key: key, Err: fmt.Errorf("decode payload: %w", err)}
	}

	path, err := writePrivate(p.config.WorkDir, service, content)
	if err != nil {
		return nil, &ConfigFetchError{Key: key, Err: err}
	}

	h := &Handle{Key: key, Path: path}

	vars, err := godotenv.Read(path)
	if err != nil {
		_ = h.Release()
		return nil, &ConfigFetchError{Key: key, Err: fmt.Errorf("parse bundle: %w", err)}
	}
	h.Vars = vars

	p.logger.Debug("environment bundle materialized", "key", key, "vars", len(vars))
	return h, nil
}

// Scoped materializes the bundle for service, runs fn, and always releases
// the bundle afterwards. A release failure is logged, not returned.
func (p *Provisioner) Scoped(ctx context.Context, service string, fn func(*Handle) error) error {
	h, err := p.Materialize(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Release(); err != nil {
			p.logger.Warn("failed to release environment bundle", "key", h.Key, "error", err)
		}
	}()
	return fn(h)
}

// writePrivate writes content to a new 0600 file under dir.
func writePrivate(dir, service string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, service+"-*.env")
	if err != nil {
		return "", fmt.Errorf("create bundle file: %w", err)
	}
	path := f.Name()

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("chmod bundle file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write bundle file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close bundle file: %w", err)
	}
	return path, nil
}
