package supabase

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// RealtimeClient publishes UI-refresh events. Status rows already trigger
// realtime via database changes; explicit publishes are best-effort and
// never block the workflow.
type RealtimeClient struct {
	client *supabase.Client
}

func NewRealtimeClient(client *supabase.Client) *RealtimeClient {
	return &RealtimeClient{
		client: client,
	}
}

func (r *RealtimeClient) PublishEvent(channel string, event string, payload map[string]interface{}) error {
	// Database updates trigger Realtime automatically; explicit event
	// publishing stays a no-op until the client library exposes it.
	return nil
}

func (r *RealtimeClient) PublishProjectEvent(projectID uuid.UUID, event string, payload map[string]interface{}) error {
	channel := fmt.Sprintf("project:%s", projectID.String())
	return r.PublishEvent(channel, event, payload)
}

// Event payloads
func ExtractionCompletedPayload(projectID uuid.UUID, created int) map[string]interface{} {
	return map[string]interface{}{
		"project_id": projectID.String(),
		"event":      "extraction_completed",
		"created":    created,
	}
}

func GenerationStartedPayload(projectID uuid.UUID, entityCount int) map[string]interface{} {
	return map[string]interface{}{
		"project_id":   projectID.String(),
		"event":        "generation_started",
		"entity_count": entityCount,
	}
}

func GenerationCompletedPayload(projectID uuid.UUID, status string, succeeded, failed int, errMsg string) map[string]interface{} {
	payload := map[string]interface{}{
		"project_id": projectID.String(),
		"event":      "generation_completed",
		"status":     status,
		"succeeded":  succeeded,
		"failed":     failed,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return payload
}

func StatusChangedPayload(projectID uuid.UUID, status string) map[string]interface{} {
	return map[string]interface{}{
		"project_id": projectID.String(),
		"event":      "status_changed",
		"status":     status,
	}
}
