package malja

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/db"
	"github.com/tfkr-ae/malja/domain"
	"github.com/tfkr-ae/malja/offline"
)

// ActiveWorker returns the worker serving navigations and its version, nil when no version is active
func (proxy *Proxy) ActiveWorker() (*offline.Worker, *domain.Version) {
	proxy.mu.RLock()
	defer proxy.mu.RUnlock()
	return proxy.worker, proxy.version
}

func (proxy *Proxy) setActive(worker *offline.Worker, version *domain.Version) {
	proxy.mu.Lock()
	defer proxy.mu.Unlock()
	proxy.worker = worker
	proxy.version = version
}

// Storage returns the cache storage used by the worker
func (proxy *Proxy) Storage() offline.Storage {
	if proxy.storage != nil {
		return proxy.storage
	}
	if proxy.Repo == nil {
		return nil
	}
	return offline.NewStorage(proxy.Repo, proxy.baseTransport, proxy.Origin)
}

// Register installs the configured worker and activates it.
// An active version with the same cache name, offline path and origin is reused when its entry is still cached.
// The previous active version serves navigations while the new one installs. When the install fails the new
// version is marked redundant and the previous version keeps serving
func (proxy *Proxy) Register(ctx context.Context) (*domain.Version, error) {
	if proxy.Repo == nil {
		return nil, ErrNoRepository
	}
	cfg := proxy.Config
	origin := proxy.Origin.String()

	previous, err := proxy.Repo.GetActiveVersion()
	if err != nil && !errors.Is(err, db.ErrNoActiveVersion) {
		return nil, fmt.Errorf("getting active version : %w", err)
	}

	if previous != nil && previous.Matches(cfg.CacheName, cfg.OfflinePath, origin) {
		if _, err := proxy.Repo.MatchEntry(previous.CacheName, previous.OfflinePath); err == nil {
			proxy.setActive(offline.NewWorker(previous.CacheName, previous.OfflinePath), previous)
			proxy.Logger.InfoContext(ctx, "reusing active version", "version", previous.ID, "cache", previous.CacheName)
			return previous, nil
		}
	}

	// the stored version keeps serving while the new one installs
	if previous != nil {
		if current, _ := proxy.ActiveWorker(); current == nil {
			proxy.setActive(offline.NewWorker(previous.CacheName, previous.OfflinePath), previous)
			proxy.Logger.InfoContext(ctx, "serving previous version during install", "version", previous.ID, "cache", previous.CacheName)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating version id : %w", err)
	}
	now := time.Now()
	version := &domain.Version{
		ID:          id,
		CacheName:   cfg.CacheName,
		OfflinePath: cfg.OfflinePath,
		Origin:      origin,
		State:       domain.VersionInstalling,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := proxy.Repo.CreateVersion(version); err != nil {
		return nil, fmt.Errorf("creating version : %w", err)
	}

	worker := cfg.Worker()
	if err := proxy.install(ctx, worker); err != nil {
		if stateErr := proxy.Repo.UpdateVersionState(version.ID, domain.VersionRedundant); stateErr != nil {
			proxy.Logger.ErrorContext(ctx, "marking version redundant", "version", version.ID, "error", stateErr)
		}
		proxy.Logger.ErrorContext(ctx, "install failed", "version", version.ID, "cache", version.CacheName, "path", version.OfflinePath, "error", err)
		proxy.WriteLog("ERROR", fmt.Sprintf("install of version %s failed : %v", version.ID, err))
		return nil, err
	}

	if err := proxy.Repo.UpdateVersionState(version.ID, domain.VersionInstalled); err != nil {
		return nil, fmt.Errorf("marking version installed : %w", err)
	}
	if err := proxy.Repo.ActivateVersion(version.ID); err != nil {
		return nil, fmt.Errorf("activating version : %w", err)
	}
	version.State = domain.VersionActivated
	version.UpdatedAt = time.Now()
	proxy.setActive(worker, version)
	proxy.Logger.InfoContext(ctx, "version activated", "version", version.ID, "cache", version.CacheName, "path", version.OfflinePath)

	if cfg.PruneStaleCaches {
		if err := proxy.pruneCaches(version.CacheName); err != nil {
			proxy.Logger.WarnContext(ctx, "pruning stale caches", "error", err)
		}
	}
	return version, nil
}

// install runs one install attempt bounded by install_retry.attempt
func (proxy *Proxy) install(ctx context.Context, worker *offline.Worker) error {
	if attempt := proxy.Config.InstallRetry.Attempt; attempt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, attempt)
		defer cancel()
	}
	return worker.Install(ctx, proxy.Storage())
}

// pruneCaches deletes every cache store except keep
func (proxy *Proxy) pruneCaches(keep string) error {
	names, err := proxy.Repo.GetCacheNames()
	if err != nil {
		return fmt.Errorf("getting cache names : %w", err)
	}
	for _, name := range names {
		if name == keep {
			continue
		}
		if err := proxy.Repo.DeleteCache(name); err != nil {
			return fmt.Errorf("deleting cache %q : %w", name, err)
		}
		proxy.Logger.Info("deleted stale cache", "cache", name)
	}
	return nil
}

// RegisterWithRetry calls Register with exponential backoff until it succeeds, the context is done or
// install_retry.max_elapsed passes. Only install failures are retried
func (proxy *Proxy) RegisterWithRetry(ctx context.Context) (*domain.Version, error) {
	retry := proxy.Config.InstallRetry
	policy := backoff.NewExponentialBackOff()
	if retry.Initial > 0 {
		policy.InitialInterval = retry.Initial
	}
	if retry.Max > 0 {
		policy.MaxInterval = retry.Max
	}
	policy.MaxElapsedTime = retry.MaxElapsed

	var version *domain.Version
	operation := func() error {
		v, err := proxy.Register(ctx)
		if err != nil {
			var setupErr *offline.SetupError
			if !errors.As(err, &setupErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		version = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		proxy.Logger.WarnContext(ctx, "retrying install", "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("registering worker : %w", err)
	}
	return version, nil
}
