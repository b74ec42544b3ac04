package schemas

import "time"

// -- Identity Models --

// ClientHints are the synthetic browser-identity headers that accompany a user agent.
type ClientHints struct {
	Brands   string `json:"brands"`
	Mobile   string `json:"mobile"`
	Platform string `json:"platform"`
}

// Identity is a synthesized browser fingerprint. A fresh one is built for every
// outbound vendor call and is never persisted.
type Identity struct {
	UserAgent   string      `json:"user_agent"`
	ClientHints ClientHints `json:"client_hints"`
}

// Headers renders the identity as the lowercase header set a Chromium browser sends
// on a cross-site fetch.
func (i Identity) Headers() map[string]string {
	return map[string]string{
		"user-agent":         i.UserAgent,
		"sec-ch-ua":          i.ClientHints.Brands,
		"sec-ch-ua-mobile":   i.ClientHints.Mobile,
		"sec-ch-ua-platform": `"` + i.ClientHints.Platform + `"`,
		"sec-fetch-dest":     "empty",
		"sec-fetch-mode":     "cors",
		"sec-fetch-site":     "same-site",
	}
}

// Signature is the vendor request signature together with the timestamp it binds.
type Signature struct {
	Sign        string `json:"sign"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// -- Erase Task Lifecycle --

// TaskState is the position of a single erase attempt in its lifecycle.
type TaskState string

const (
	TaskSubmitted     TaskState = "SUBMITTED"
	TaskUploaded      TaskState = "UPLOADED"
	TaskStatusQueried TaskState = "STATUS_QUERIED"
	TaskCompleted     TaskState = "COMPLETED"
	TaskFailed        TaskState = "FAILED"
)

// transitions lists the legal forward moves. FAILED is reachable from any
// non-terminal state and is handled separately.
var transitions = map[TaskState]TaskState{
	TaskSubmitted:     TaskUploaded,
	TaskUploaded:      TaskStatusQueried,
	TaskStatusQueried: TaskCompleted,
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether moving from s to next is allowed. No state may be skipped.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskFailed {
		return true
	}
	return transitions[s] == next
}

// EraseTask tracks one erase attempt against the vendor.
type EraseTask struct {
	Token     string    `json:"token"`
	DeviceID  string    `json:"e_id"`
	ResultURL string    `json:"result_url,omitempty"`
	State     TaskState `json:"state"`
}

// -- Journal Models --

// CallRecord is one journaled erase attempt.
type CallRecord struct {
	ID               int64     `json:"id"`
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
	ImageFilename    string    `json:"image_filename,omitempty"`
	ImageData        []byte    `json:"-"`
	ImageContentType string    `json:"image_content_type,omitempty"`
	ImageSizeBytes   int64     `json:"image_size_bytes"`
	ImageWidth       *int      `json:"image_width,omitempty"`
	ImageHeight      *int      `json:"image_height,omitempty"`
	Token            string    `json:"token"`
	DeviceID         string    `json:"e_id"`
	ResultURL        string    `json:"result_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CallStats summarises the journal.
type CallStats struct {
	TotalCalls   int64  `json:"total_calls"`
	SuccessCalls int64  `json:"success_calls"`
	UniqueIPs    int64  `json:"unique_ips"`
	TodayCalls   int64  `json:"today_calls"`
	SuccessRate  string `json:"success_rate"`
}

// StoredImage is an uploaded image read back from the journal.
type StoredImage struct {
	Data        []byte
	ContentType string
	Filename    string
}
