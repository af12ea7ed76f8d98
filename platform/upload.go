package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/autopost/fault"
)

// Upload protocol defaults.
const (
	// DefaultChunkSize is the append chunk size. 1 MiB respects the
	// platform's per-append size limit.
	DefaultChunkSize = 1 << 20

	// DefaultPollInterval is the processing poll delay used when the
	// platform does not suggest one.
	DefaultPollInterval = 5 * time.Second

	// DefaultProcessingCeiling bounds the total wall-clock time spent
	// waiting for server-side processing.
	DefaultProcessingCeiling = 10 * time.Minute
)

// UploadOptions tunes the upload protocol. Zero values use the defaults
// above; SettleDelay of zero means no settle wait.
type UploadOptions struct {
	ChunkSize         int
	PollInterval      time.Duration
	ProcessingCeiling time.Duration

	// SettleDelay is a short wait after a finalize response without a
	// processing_info block, since some platforms lag before the media
	// identifier becomes usable.
	SettleDelay time.Duration
}

// Uploader drives the four-phase chunked upload exchange:
// initialize, append (in strict chunk-index order), finalize, and
// poll-status while the platform processes the media asynchronously.
// One upload produces one media identifier; identifiers are never reused.
type Uploader struct {
	session  *Session
	endpoint string
	opts     UploadOptions
	logger   *slog.Logger
}

// NewUploader creates an uploader that talks to the given media endpoint
// through an authenticated session.
func NewUploader(session *Session, endpoint string, opts UploadOptions, logger *slog.Logger) (*Uploader, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("upload endpoint is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ProcessingCeiling <= 0 {
		opts.ProcessingCeiling = DefaultProcessingCeiling
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Uploader{session: session, endpoint: endpoint, opts: opts, logger: logger}, nil
}

// Upload delivers data to the platform and returns the media identifier once
// the platform reports it usable. A processing ceiling overrun returns a
// protocol-timeout error, distinct from a platform-reported failure.
func (u *Uploader) Upload(ctx context.Context, data []byte, mediaType, category string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload payload is empty")
	}

	upload, err := u.initialize(ctx, len(data), mediaType, category)
	if err != nil {
		return "", fmt.Errorf("upload initialize: %w", err)
	}
	mediaID := upload.ID
	u.logger.Debug("upload initialized",
		"media_id", mediaID, "total_bytes", len(data), "media_type", mediaType)

	chunks := (len(data) + u.opts.ChunkSize - 1) / u.opts.ChunkSize
	for i := 0; i < chunks; i++ {
		start := i * u.opts.ChunkSize
		end := start + u.opts.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := u.appendChunk(ctx, mediaID, i, data[start:end]); err != nil {
			return "", fmt.Errorf("upload append chunk %d/%d: %w", i, chunks, err)
		}
	}

	final, err := u.finalize(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("upload finalize: %w", err)
	}

	if final.Processing == nil {
		// No asynchronous processing; give the platform a moment to settle.
		if u.opts.SettleDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(u.opts.SettleDelay):
			}
		}
		return mediaID, nil
	}

	if err := u.awaitProcessing(ctx, mediaID, final.Processing); err != nil {
		return "", err
	}
	return mediaID, nil
}

// initialize declares the payload size, MIME type, and category, and receives
// the media identifier.
func (u *Uploader) initialize(ctx context.Context, totalBytes int, mediaType, category string) (*MediaUpload, error) {
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.Itoa(totalBytes))
	form.Set("media_type", mediaType)
	form.Set("media_category", category)
	return u.postForm(ctx, form)
}

// appendChunk uploads one chunk at the given segment index as a multipart
// form. Chunks are issued sequentially in strictly increasing index order.
func (u *Uploader) appendChunk(ctx context.Context, mediaID string, index int, chunk []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("command", "APPEND"); err != nil {
		return err
	}
	if err := writer.WriteField("media_id", mediaID); err != nil {
		return err
	}
	if err := writer.WriteField("segment_index", strconv.Itoa(index)); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("media", "chunk")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.session.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return err
	}
	return nil
}

// finalize signals completion of all appends.
func (u *Uploader) finalize(ctx context.Context, mediaID string) (*MediaUpload, error) {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)
	return u.postForm(ctx, form)
}

// status re-checks the processing state of an in-flight upload.
func (u *Uploader) status(ctx context.Context, mediaID string) (*MediaUpload, error) {
	params := url.Values{}
	params.Set("command", "STATUS")
	params.Set("media_id", mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return parseMediaUpload(body)
}

// awaitProcessing polls until processing succeeds, fails, or the wall-clock
// ceiling elapses. The server-suggested delay is honored when present.
func (u *Uploader) awaitProcessing(ctx context.Context, mediaID string, processing *ProcessingState) error {
	deadline := time.Now().Add(u.opts.ProcessingCeiling)

	for {
		switch processing.State {
		case ProcessingSucceeded:
			return nil
		case ProcessingFailed:
			return fault.New(fault.KindUpstreamRejected,
				"platform failed to process media %s: %s", mediaID, processing.Error)
		}

		wait := processing.CheckAfter
		if wait <= 0 {
			wait = u.opts.PollInterval
		}
		if time.Now().Add(wait).After(deadline) {
			return fault.New(fault.KindProtocolTimeout,
				"media %s still %s after %s processing ceiling", mediaID, processing.State, u.opts.ProcessingCeiling)
		}
		u.logger.Debug("media processing in flight",
			"media_id", mediaID, "state", processing.State,
			"progress", processing.Progress, "next_check", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		upload, err := u.status(ctx, mediaID)
		if err != nil {
			return err
		}
		if upload.Processing == nil {
			// The platform stopped reporting processing state; done.
			return nil
		}
		processing = upload.Processing
	}
}

// postForm issues a form-encoded protocol command and returns the normalized
// response.
func (u *Uploader) postForm(ctx context.Context, form url.Values) (*MediaUpload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return parseMediaUpload(body)
}

// classifyStatus maps a platform HTTP status to the error taxonomy. 2xx is
// success; 429 and 5xx are recoverable availability problems; other 4xx are
// rejections that must not be retried.
func classifyStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return nil
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fault.New(fault.KindUpstreamUnavailable, "platform returned %d: %s", statusCode, truncateBody(body))
	default:
		return fault.New(fault.KindUpstreamRejected, "platform returned %d: %s", statusCode, truncateBody(body))
	}
}
