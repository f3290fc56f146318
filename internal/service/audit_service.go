package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/events"
)

// EventSink receives audit events after they are logged.
type EventSink interface {
	Send(ctx context.Context, event events.Event) error
}

// AuditService records security-relevant events.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sink       EventSink
}

// NewAuditService creates the service. sink may be nil.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, sink EventSink) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger,
		sink:       sink,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventUserRegistered, a.handleInfo)
	a.dispatcher.Subscribe(events.EventUserLoggedIn, a.handleInfo)
	a.dispatcher.Subscribe(events.EventPasswordResetRequested, a.handleInfo)
	a.dispatcher.Subscribe(events.EventPasswordResetCompleted, a.handleInfo)
	a.dispatcher.Subscribe(events.EventRolePromoted, a.handleRolePromoted)
	a.dispatcher.Subscribe(events.EventAccessDenied, a.handleAccessDenied)
}

func (a *AuditService) handleInfo(ctx context.Context, event events.Event) error {
	a.logger.Info("audit", eventFields(event)...)
	return a.forward(ctx, event)
}

func (a *AuditService) handleRolePromoted(ctx context.Context, event events.Event) error {
	fields := eventFields(event)
	if payload, ok := event.Payload.(events.RolePromotedPayload); ok {
		fields = append(fields,
			zap.String("target_user_id", payload.TargetUserID),
			zap.String("old_role", string(payload.OldRole)),
			zap.String("new_role", string(payload.NewRole)),
			zap.Bool("via_key", payload.ViaKey))
	}
	a.logger.Warn("audit", fields...)
	return a.forward(ctx, event)
}

func (a *AuditService) handleAccessDenied(ctx context.Context, event events.Event) error {
	fields := eventFields(event)
	if payload, ok := event.Payload.(events.AccessDeniedPayload); ok {
		fields = append(fields,
			zap.String("resource", payload.Resource),
			zap.String("course_id", payload.CourseID),
			zap.String("reason", payload.Reason))
	}
	a.logger.Warn("audit", fields...)
	return a.forward(ctx, event)
}

func (a *AuditService) forward(ctx context.Context, event events.Event) error {
	if a.sink == nil {
		return nil
	}
	return a.sink.Send(ctx, event)
}

func eventFields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject_id", event.Actor.SubjectID),
		zap.String("role", string(event.Actor.Role)),
		zap.String("ip", event.Actor.IP),
		zap.Time("timestamp", event.Timestamp),
	}
}
