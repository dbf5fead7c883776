package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirelle-dev/authgate-api/internal/models"
	"github.com/mirelle-dev/authgate-api/pkg/jobs"
)

// auditRecorder is how the auth flows report events. Recording is
// best-effort: a lost event never fails the request that produced it.
type auditRecorder interface {
	Record(event *models.AuditEvent)
}

type noopAudit struct{}

func (noopAudit) Record(*models.AuditEvent) {}

type auditStore interface {
	Create(ctx context.Context, event *models.AuditEvent) error
}

// AuditConfig tunes the async writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

// AuditService persists audit events asynchronously through a worker queue
// so audit writes never sit on the request path.
type AuditService struct {
	store  auditStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs an AuditService backed by an in-memory queue.
func NewAuditService(store auditStore, cfg AuditConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{store: store, logger: logger}
	svc.queue = jobs.NewQueue("audit", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return svc
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit event for asynchronous persistence.
func (s *AuditService) Record(event *models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	err := s.queue.Enqueue(jobs.Job{ID: event.ID, Type: string(event.Action), Payload: event})
	if err != nil {
		s.logger.Warn("failed to enqueue audit event", zap.String("action", string(event.Action)), zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(*models.AuditEvent)
	if !ok {
		s.logger.Warn("audit job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.store.Create(ctx, event)
}
