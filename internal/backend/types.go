package backend

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Phase is the coarse lifecycle phase the inference service reports for a
// submitted job.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Backend status codes as returned in the query envelope.
const (
	statusPending    = 0
	statusProcessing = 1
	statusCompleted  = 2
	statusFailed     = 3
)

// phaseFromStatus maps the service's integer status to a Phase. Values the
// service has not documented are reported as processing so a monitor keeps
// polling instead of failing on a new status code.
func phaseFromStatus(status int64) Phase {
	switch status {
	case statusPending:
		return PhasePending
	case statusProcessing:
		return PhaseProcessing
	case statusCompleted:
		return PhaseCompleted
	case statusFailed:
		return PhaseFailed
	default:
		return PhaseProcessing
	}
}

// QueryResult is the decoded state of one submitted job.
type QueryResult struct {
	// Phase is the mapped lifecycle phase.
	Phase Phase

	// Progress is the reported completion percentage, 0-100.
	Progress int

	// Result is the container-side path of the finished artifact. Only
	// meaningful when Phase is PhaseCompleted, and may still be empty when
	// the service finished without reporting a path.
	Result string

	// Message carries the service's human-readable status or error text.
	Message string
}

// submitRequest is the wire payload for /easy/submit. Media paths are
// container-side; the service resolves them against its own mount.
type submitRequest struct {
	AudioURL        string `json:"audio_url"`
	VideoURL        string `json:"video_url"`
	Code            string `json:"code"`
	Chaofen         int    `json:"chaofen"`
	WatermarkSwitch int    `json:"watermark_switch"`
	PN              int    `json:"pn"`
}

type submitResponse struct {
	Success FlexBool `json:"success"`
	Code    FlexInt  `json:"code"`
	Msg     string   `json:"msg"`
}

type queryResponse struct {
	Code FlexInt    `json:"code"`
	Msg  string     `json:"msg"`
	Data *queryData `json:"data"`
}

type queryData struct {
	Status   FlexInt `json:"status"`
	Progress FlexInt `json:"progress"`
	Result   string  `json:"result"`
	Msg      string  `json:"msg"`
}

// FlexInt handles JSON numbers that may arrive as strings or integers. The
// inference service is not consistent about this across versions.
type FlexInt int64

// Int returns the integer value.
func (f FlexInt) Int() int64 {
	return int64(f)
}

// UnmarshalJSON handles both string and number JSON values.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}

	*f = 0
	return nil
}

// FlexBool handles JSON booleans that may arrive as bools, numbers, or
// strings ("true", "1").
type FlexBool bool

// Bool returns the boolean value.
func (f FlexBool) Bool() bool {
	return bool(f)
}

// UnmarshalJSON handles bool, number, and string JSON values.
func (f *FlexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlexBool(b)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			*f = true
		default:
			*f = false
		}
		return nil
	}

	*f = false
	return nil
}
