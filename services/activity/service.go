package activity

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/tracing"
)

type activityService struct {
	publisher *RabbitMQPublisher
	logger    logger.Logger
}

// NewActivityService wires the activity sink to RabbitMQ. When rabbitmqURL is
// empty the service degrades to a logging-only sink so ingestion keeps working
// without a broker.
func NewActivityService(rabbitmqURL string, l logger.Logger) (interfaces.ActivityService, error) {
	if rabbitmqURL == "" {
		l.Warn("RabbitMQ URL not configured, activity events will only be logged")
		return &activityService{logger: l}, nil
	}

	publisher, err := NewRabbitMQPublisher(rabbitmqURL, l, nil)
	if err != nil {
		return nil, err
	}

	return &activityService{
		publisher: publisher,
		logger:    l,
	}, nil
}

// Record publishes the event and drops it on failure. Ingestion never blocks
// on the activity sink.
func (s *activityService) Record(ctx context.Context, event dto.ActivityEvent) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ActivityService.Record")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("eventType", event.EventType, "subjectId", event.SubjectID)

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if s.publisher == nil {
		s.logger.Infof("activity event %s subject %s (no broker configured)", event.EventType, event.SubjectID)
		return
	}

	if err := s.publisher.PublishActivityEvent(ctx, event); err != nil {
		tracing.TraceErr(span, err)
		s.logger.Errorf("Failed to publish activity event %s for %s: %v", event.EventType, event.SubjectID, err)
	}
}

func (s *activityService) Close() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Errorf("Error closing activity publisher: %v", err)
	}
}
