package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Processing states reported by the platform for asynchronous media
// processing.
const (
	ProcessingPending    = "pending"
	ProcessingInProgress = "in_progress"
	ProcessingSucceeded  = "succeeded"
	ProcessingFailed     = "failed"
)

// MediaUpload is the normalized view of an upload-protocol response. The
// platform has shipped several variants of the media identifier field;
// normalization happens in exactly one place so nothing downstream probes
// optional fields.
type MediaUpload struct {
	ID         string
	Processing *ProcessingState
}

// ProcessingState describes in-flight server-side media processing.
type ProcessingState struct {
	State      string
	CheckAfter time.Duration
	Progress   int
	Error      string
}

// mediaUploadResponse is the wire shape of INIT, FINALIZE, and STATUS
// responses across protocol versions.
type mediaUploadResponse struct {
	MediaID        int64           `json:"media_id"`
	MediaIDString  string          `json:"media_id_string"`
	MediaKey       string          `json:"media_key"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

type processingInfo struct {
	State           string           `json:"state"`
	CheckAfterSecs  int              `json:"check_after_secs"`
	ProgressPercent int              `json:"progress_percent"`
	Error           *processingError `json:"error"`
}

type processingError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// normalize maps the wire response into the internal MediaUpload type. This
// is the single translation boundary for protocol-version differences.
func (r *mediaUploadResponse) normalize() (*MediaUpload, error) {
	var id string
	switch {
	case r.MediaIDString != "":
		id = r.MediaIDString
	case r.MediaKey != "":
		id = r.MediaKey
	case r.MediaID > 0:
		id = strconv.FormatInt(r.MediaID, 10)
	default:
		return nil, fmt.Errorf("upload response carries no media identifier")
	}

	upload := &MediaUpload{ID: id}
	if r.ProcessingInfo != nil {
		state := &ProcessingState{
			State:      r.ProcessingInfo.State,
			CheckAfter: time.Duration(r.ProcessingInfo.CheckAfterSecs) * time.Second,
			Progress:   r.ProcessingInfo.ProgressPercent,
		}
		if e := r.ProcessingInfo.Error; e != nil {
			state.Error = fmt.Sprintf("%s (code %d): %s", e.Name, e.Code, e.Message)
		}
		upload.Processing = state
	}
	return upload, nil
}

// parseMediaUpload decodes and normalizes an upload-protocol response body.
func parseMediaUpload(body []byte) (*MediaUpload, error) {
	var wire mediaUploadResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("upload response is malformed JSON: %w", err)
	}
	return wire.normalize()
}

// postRequest is the wire shape of a create-post call.
type postRequest struct {
	Text  string     `json:"text"`
	Media *postMedia `json:"media,omitempty"`
}

type postMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// postResponse is the wire shape of a create-post response.
type postResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}
