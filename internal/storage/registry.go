package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/singleflight"

	"go-file-engine/internal/connection"
	"go-file-engine/internal/model"
)

// ResourceRepository is the source of resource descriptors.
type ResourceRepository interface {
	Get(ctx context.Context, id string) (model.ResourceDescriptor, error)
	List(ctx context.Context) ([]model.ResourceDescriptor, error)
}

// CredentialProvider turns a descriptor's credential reference into secrets.
type CredentialProvider interface {
	Resolve(ctx context.Context, ref string) (model.Credential, error)
}

// Factory builds a strategy for one descriptor. pool is nil for LOCAL.
type Factory func(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential, pool *connection.Pool) (Strategy, error)

type RegistryConfig struct {
	Pool               connection.PoolConfig
	CloudRatePerSecond float64
	CloudBurst         int
}

// minNetworkSessions lets a same-resource copy hold a reader and a writer.
const minNetworkSessions = 2

type registered struct {
	desc     model.ResourceDescriptor
	strategy Strategy
	pool     *connection.Pool
}

// Registry lazily builds one strategy per resource and owns its pool.
type Registry struct {
	resources   ResourceRepository
	credentials CredentialProvider
	conns       *connection.Manager
	cfg         RegistryConfig
	factories   map[model.Protocol]Factory
	group       singleflight.Group

	mu      sync.RWMutex
	entries map[string]*registered
}

func NewRegistry(resources ResourceRepository, credentials CredentialProvider, conns *connection.Manager, cfg RegistryConfig) *Registry {
	r := &Registry{
		resources:   resources,
		credentials: credentials,
		conns:       conns,
		cfg:         cfg,
		entries:     make(map[string]*registered),
	}
	r.factories = map[model.Protocol]Factory{
		model.ProtocolLocal: func(_ context.Context, desc model.ResourceDescriptor, _ model.Credential, _ *connection.Pool) (Strategy, error) {
			return NewLocalStrategy(desc.ID, desc.Root)
		},
		model.ProtocolSMB: func(_ context.Context, desc model.ResourceDescriptor, _ model.Credential, pool *connection.Pool) (Strategy, error) {
			return NewSMBStrategy(desc, pool), nil
		},
		model.ProtocolSFTP: func(_ context.Context, desc model.ResourceDescriptor, _ model.Credential, pool *connection.Pool) (Strategy, error) {
			return NewSFTPStrategy(desc, pool), nil
		},
		model.ProtocolFTP: func(_ context.Context, desc model.ResourceDescriptor, _ model.Credential, pool *connection.Pool) (Strategy, error) {
			return NewFTPStrategy(desc, pool), nil
		},
		model.ProtocolS3: func(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential, pool *connection.Pool) (Strategy, error) {
			client, err := NewS3Client(ctx, desc, cred)
			if err != nil {
				return nil, err
			}
			return NewCloudStrategy(desc, pool, client), nil
		},
		model.ProtocolGDrive: func(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential, pool *connection.Pool) (Strategy, error) {
			client, err := NewDriveClient(ctx, cred, endpoints.Google.TokenURL)
			if err != nil {
				return nil, err
			}
			return NewCloudStrategy(desc, pool, client), nil
		},
		model.ProtocolDropbox: func(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential, pool *connection.Pool) (Strategy, error) {
			return NewCloudStrategy(desc, pool, NewDropboxClient(ctx, cred, endpoints.Dropbox.TokenURL)), nil
		},
		model.ProtocolOneDrive: func(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential, pool *connection.Pool) (Strategy, error) {
			return NewCloudStrategy(desc, pool, NewOneDriveClient(ctx, cred, endpoints.AzureAD("common").TokenURL)), nil
		},
	}
	return r
}

// SetFactory overrides how strategies for protocol are built.
func (r *Registry) SetFactory(protocol model.Protocol, factory Factory) {
	r.factories[protocol] = factory
}

// Put registers a prebuilt strategy, replacing any existing one.
func (r *Registry) Put(desc model.ResourceDescriptor, strategy Strategy) {
	r.mu.Lock()
	previous := r.entries[desc.ID]
	r.entries[desc.ID] = &registered{desc: desc, strategy: strategy}
	r.mu.Unlock()

	if previous != nil {
		r.closeEntry(previous)
	}
}

func (r *Registry) Strategy(ctx context.Context, resourceID string) (Strategy, error) {
	entry, err := r.entry(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return entry.strategy, nil
}

func (r *Registry) Descriptor(ctx context.Context, resourceID string) (model.ResourceDescriptor, error) {
	entry, err := r.entry(ctx, resourceID)
	if err != nil {
		return model.ResourceDescriptor{}, err
	}
	return entry.desc, nil
}

// Concurrency is the session limit of the resource, or 0 when unbounded.
func (r *Registry) Concurrency(ctx context.Context, resourceID string) int {
	entry, err := r.entry(ctx, resourceID)
	if err != nil {
		return 0
	}
	if entry.pool != nil {
		return entry.pool.Config().MaxConcurrency
	}
	return entry.desc.Connection.MaxConcurrency
}

// Descriptors lists the configured resources merged with ones registered via Put.
func (r *Registry) Descriptors(ctx context.Context) ([]model.ResourceDescriptor, error) {
	byID := map[string]model.ResourceDescriptor{}
	if r.resources != nil {
		listed, err := r.resources.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, desc := range listed {
			byID[desc.ID] = desc
		}
	}

	r.mu.RLock()
	for id, entry := range r.entries {
		byID[id] = entry.desc
	}
	r.mu.RUnlock()

	descs := make([]model.ResourceDescriptor, 0, len(byID))
	for _, desc := range byID {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs, nil
}

// Invalidate drops the strategy and its pool; the next lookup rebuilds both
// with freshly resolved credentials.
func (r *Registry) Invalidate(resourceID string) {
	r.mu.Lock()
	entry := r.entries[resourceID]
	delete(r.entries, resourceID)
	r.mu.Unlock()

	if entry != nil {
		r.closeEntry(entry)
	}
}

func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registered)
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := entry.strategy.Close(); err != nil {
			errs = append(errs, err)
		}
		if entry.pool != nil {
			if err := r.conns.Remove(entry.desc.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) closeEntry(entry *registered) {
	if err := entry.strategy.Close(); err != nil {
		slog.Warn("closing strategy", "resource_id", entry.desc.ID, "error", err)
	}
	if entry.pool != nil {
		_ = r.conns.Remove(entry.desc.ID)
	}
}

func (r *Registry) entry(ctx context.Context, resourceID string) (*registered, error) {
	r.mu.RLock()
	entry, ok := r.entries[resourceID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	built, err, _ := r.group.Do(resourceID, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.entries[resourceID]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		entry, err := r.build(ctx, resourceID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[resourceID] = entry
		r.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return built.(*registered), nil
}

func (r *Registry) build(ctx context.Context, resourceID string) (*registered, error) {
	if r.resources == nil {
		return nil, resourceNotFound(resourceID, nil)
	}

	desc, err := r.resources.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, model.ErrResourceNotFound) {
			return nil, resourceNotFound(resourceID, err)
		}
		return nil, &model.OpError{Kind: model.KindUnknown, Op: "resolve", Detail: fmt.Sprintf("load resource %s", resourceID), Err: err}
	}
	if err := desc.Validate(); err != nil {
		return nil, &model.OpError{Kind: model.KindUnknown, Op: "resolve", Protocol: desc.Protocol, Detail: err.Error(), Err: err}
	}

	factory, ok := r.factories[desc.Protocol]
	if !ok {
		return nil, &model.OpError{Kind: model.KindUnknown, Op: "resolve", Protocol: desc.Protocol, Err: model.ErrUnknownProtocol}
	}

	var cred model.Credential
	if desc.CredentialRef != "" && r.credentials != nil {
		cred, err = r.credentials.Resolve(ctx, desc.CredentialRef)
		if err != nil {
			return nil, &model.OpError{Kind: model.KindAuthFailed, Op: "resolve", Protocol: desc.Protocol, Detail: "credential " + desc.CredentialRef, Err: err}
		}
	}

	var pool *connection.Pool
	if desc.Protocol.IsNetwork() {
		dialer, err := r.dialer(desc, cred)
		if err != nil {
			return nil, err
		}
		pool = r.conns.Register(desc.ID, desc.Protocol, r.poolConfig(desc), dialer)
	}

	strategy, err := factory(ctx, desc, cred, pool)
	if err != nil {
		if pool != nil {
			_ = r.conns.Remove(desc.ID)
		}
		var opErr *model.OpError
		if errors.As(err, &opErr) {
			return nil, err
		}
		return nil, &model.OpError{Kind: model.KindUnknown, Op: "resolve", Protocol: desc.Protocol, Detail: err.Error(), Err: err}
	}

	slog.Info("resource strategy ready", "resource_id", desc.ID, "protocol", desc.Protocol)
	return &registered{desc: desc, strategy: strategy, pool: pool}, nil
}

func (r *Registry) dialer(desc model.ResourceDescriptor, cred model.Credential) (connection.Dialer, error) {
	switch desc.Protocol {
	case model.ProtocolSMB:
		return NewSMBDialer(desc, cred), nil
	case model.ProtocolSFTP:
		return NewSFTPDialer(desc, cred)
	case model.ProtocolFTP:
		return NewFTPDialer(desc, cred), nil
	default:
		return CloudDialer(), nil
	}
}

func (r *Registry) poolConfig(desc model.ResourceDescriptor) connection.PoolConfig {
	cfg := r.cfg.Pool
	if desc.Connection.MaxConcurrency > 0 {
		cfg.MaxConcurrency = desc.Connection.MaxConcurrency
	}
	if cfg.MaxConcurrency < minNetworkSessions {
		cfg.MaxConcurrency = minNetworkSessions
	}
	if desc.Connection.KeepAliveInterval > 0 {
		cfg.KeepAliveInterval = desc.Connection.KeepAliveInterval
	}
	if desc.Connection.ConnectTimeout > 0 && cfg.AcquireTimeout < desc.Connection.ConnectTimeout {
		cfg.AcquireTimeout = desc.Connection.ConnectTimeout + 5*time.Second
	}
	if desc.Protocol.IsCloud() {
		cfg.RatePerSecond = r.cfg.CloudRatePerSecond
		cfg.Burst = r.cfg.CloudBurst
	}
	return cfg
}

func resourceNotFound(resourceID string, err error) error {
	if err == nil {
		err = model.ErrResourceNotFound
	}
	return &model.OpError{Kind: model.KindNotFound, Op: "resolve", Detail: "resource " + resourceID, Err: err}
}
