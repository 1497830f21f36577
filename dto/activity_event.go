package dto

import (
	"time"

	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/models"
)

// ActivityEvent is the wire shape published to the activity-log collaborator.
type ActivityEvent struct {
	EventType   enum.ActivityEventType `json:"eventType"`
	ActorID     string                 `json:"actorId"`
	SubjectID   string                 `json:"subjectId"`
	BeforeState models.JSONMap         `json:"beforeState,omitempty"`
	AfterState  models.JSONMap         `json:"afterState,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
