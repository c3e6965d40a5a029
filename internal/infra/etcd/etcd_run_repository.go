// internal/infra/etcd/etcd_run_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"update-runner/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RunHistoryDir is the root path for persisted run records.
	RunHistoryDir = "/updater/runs/"
)

type etcdRunRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdRunRepository creates a run record repository backed by etcd.
// Keys are structured as /updater/runs/{runID}.
func NewEtcdRunRepository(client *clientv3.Client, logger *slog.Logger) domain.RunRepository {
	return &etcdRunRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("update-runner-etcd-run-repo"),
	}
}

// Save persists a single run record. A record is written once when the run
// starts and overwritten with the final state when it ends.
func (r *etcdRunRepository) Save(ctx context.Context, run *domain.Run) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRun")
	defer span.End()

	if err := run.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	runJSON, err := json.Marshal(run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal run record")
		return fmt.Errorf("failed to marshal run record %s to JSON: %w", run.ID, err)
	}

	key := path.Join(RunHistoryDir, run.ID)
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("etcd.key", key),
	)

	if _, err = r.client.Put(ctx, key, string(runJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put run record to etcd")
		return fmt.Errorf("failed to save run record %s to etcd: %w", run.ID, err)
	}
	return nil
}

// Get retrieves a single run record by its ID.
func (r *etcdRunRepository) Get(ctx context.Context, id string) (*domain.Run, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	key := path.Join(RunHistoryDir, id)
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run record from etcd")
		return nil, fmt.Errorf("failed to get run record %s from etcd: %w", id, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, domain.ErrRunNotFound
	}

	var run domain.Run
	if err := json.Unmarshal(resp.Kvs[0].Value, &run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal run record")
		return nil, fmt.Errorf("failed to unmarshal run record %s from JSON: %w", id, err)
	}
	return &run, nil
}

// ListRecent retrieves run records newest first, with pagination.
func (r *etcdRunRepository) ListRecent(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRuns")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	resp, err := r.client.Get(ctx, RunHistoryDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend), // Newest first
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list run records from etcd")
		return nil, fmt.Errorf("failed to list run records from etcd: %w", err)
	}

	runs := make([]*domain.Run, 0, len(resp.Kvs))
	// Index-based pagination; fine for the volume one job produces.
	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize

	for i, kv := range resp.Kvs {
		if i < startIdx {
			continue
		}
		if i >= endIdx {
			break
		}

		var run domain.Run
		if err := json.Unmarshal(kv.Value, &run); err != nil {
			r.logger.Warn("failed to unmarshal run record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		runs = append(runs, &run)
	}
	span.SetAttributes(attribute.Int("records_returned", len(runs)))
	return runs, nil
}
