// Package explain implements the image explanation workflow: accepting an
// upload, running the model call in the background, answering status polls
// and follow-up questions.
package explain

// TypeExplainImage is the asynq task type of an explanation work item.
const TypeExplainImage = "explain:image"

const (
	DefaultUserID   = "default_user"
	DefaultSchoolID = "default_school"
)

// Payload is the queued work item.
type Payload struct {
	TaskID      string `json:"task_id"`
	UserID      string `json:"user_id"`
	SchoolID    string `json:"school_id"`
	ImageBase64 string `json:"image_base64"`
	GradeLevel  string `json:"grade_level"`
}
