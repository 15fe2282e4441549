package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-file-engine/internal/model"
)

const resourceColumns = `id, name, protocol, root, host, port, share, bucket, region, endpoint,
	credential_ref, connect_timeout_ms, operation_timeout_ms, max_concurrency, keepalive_ms,
	atomic_rename, native_trash, reports_capacity, cheap_checksum`

// ResourceRepository reads resource descriptors from Postgres. The engine
// never writes them; Upsert exists for provisioning tools.
type ResourceRepository struct {
	pool *pgxpool.Pool
}

func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

func (r *ResourceRepository) Get(ctx context.Context, id string) (model.ResourceDescriptor, error) {
	desc, err := scanResource(r.pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ResourceDescriptor{}, fmt.Errorf("%w: %s", model.ErrResourceNotFound, id)
	}
	if err != nil {
		return model.ResourceDescriptor{}, fmt.Errorf("get resource: %w", err)
	}
	return desc, nil
}

func (r *ResourceRepository) List(ctx context.Context) ([]model.ResourceDescriptor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	out := make([]model.ResourceDescriptor, 0)
	for rows.Next() {
		desc, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

func (r *ResourceRepository) Upsert(ctx context.Context, desc model.ResourceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO resources (`+resourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, protocol = EXCLUDED.protocol, root = EXCLUDED.root,
		   host = EXCLUDED.host, port = EXCLUDED.port, share = EXCLUDED.share,
		   bucket = EXCLUDED.bucket, region = EXCLUDED.region, endpoint = EXCLUDED.endpoint,
		   credential_ref = EXCLUDED.credential_ref,
		   connect_timeout_ms = EXCLUDED.connect_timeout_ms,
		   operation_timeout_ms = EXCLUDED.operation_timeout_ms,
		   max_concurrency = EXCLUDED.max_concurrency, keepalive_ms = EXCLUDED.keepalive_ms,
		   atomic_rename = EXCLUDED.atomic_rename, native_trash = EXCLUDED.native_trash,
		   reports_capacity = EXCLUDED.reports_capacity, cheap_checksum = EXCLUDED.cheap_checksum`,
		desc.ID, desc.Name, string(desc.Protocol), desc.Root, desc.Host, desc.Port, desc.Share,
		desc.Bucket, desc.Region, desc.Endpoint, desc.CredentialRef,
		desc.Connection.ConnectTimeout.Milliseconds(), desc.Connection.OperationTimeout.Milliseconds(),
		desc.Connection.MaxConcurrency, desc.Connection.KeepAliveInterval.Milliseconds(),
		desc.Capabilities.AtomicRename, desc.Capabilities.NativeTrash,
		desc.Capabilities.ReportsCapacity, desc.Capabilities.CheapChecksum)
	if err != nil {
		return fmt.Errorf("upsert resource: %w", err)
	}
	return nil
}

func scanResource(row pgx.Row) (model.ResourceDescriptor, error) {
	var desc model.ResourceDescriptor
	var protocol string
	var connectMS, operationMS, keepAliveMS int64

	err := row.Scan(&desc.ID, &desc.Name, &protocol, &desc.Root, &desc.Host, &desc.Port,
		&desc.Share, &desc.Bucket, &desc.Region, &desc.Endpoint, &desc.CredentialRef,
		&connectMS, &operationMS, &desc.Connection.MaxConcurrency, &keepAliveMS,
		&desc.Capabilities.AtomicRename, &desc.Capabilities.NativeTrash,
		&desc.Capabilities.ReportsCapacity, &desc.Capabilities.CheapChecksum)
	if err != nil {
		return model.ResourceDescriptor{}, err
	}

	desc.Protocol = model.Protocol(protocol)
	desc.Connection.ConnectTimeout = time.Duration(connectMS) * time.Millisecond
	desc.Connection.OperationTimeout = time.Duration(operationMS) * time.Millisecond
	desc.Connection.KeepAliveInterval = time.Duration(keepAliveMS) * time.Millisecond
	return desc, nil
}
