package models

import "encoding/json"

// Event types published on the job event bus.
const (
	EventJobCreated          = "job_created"
	EventJobPlanningStarted  = "job_planning_started"
	EventJobPlanningFinished = "job_planning_finished"
	EventJobStarted          = "job_started"
	EventJobPaused           = "job_paused"
	EventJobResumed          = "job_resumed"
	EventJobCancelRequested  = "job_cancel_requested"
	EventJobCancelled        = "job_cancelled"
	EventJobCompleted        = "job_completed"
	EventJobFailed           = "job_failed"
	EventTaskError           = "task_error"
	EventArtifactChanged     = "artifact_state_changed"
)

// Event is one entry on a job's event stream. Seq is strictly
// increasing per job and reflects publish order.
type Event struct {
	TS      int64          `json:"ts"`
	Seq     int64          `json:"seq"`
	JobID   string         `json:"job_id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// SSE renders the event in the wire framing used by the events
// endpoint: "data: <json>\n\n".
func (e Event) SSE() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return "data: " + string(b) + "\n\n"
}
