// Package fetcher turns "recording finished" notifications from the
// telephony gateway into durably archived audio. Each event is processed
// once: the ledger row keyed on the recording identifier absorbs gateway
// redelivery, and a failed fetch is reported back so the gateway's own
// redelivery is the retry path — there is no internal retry loop.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"

	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/callscribe/callscribe/internal/script"
)

// audioSuffix is the provider's fixed audio-format suffix: appending it to
// the notified recording location yields the downloadable WAV resource.
const audioSuffix = ".wav"

// defaultTimeout bounds one fetch when no timeout is configured.
const defaultTimeout = 30 * time.Second

// ErrFetch wraps transport and authentication failures while retrieving
// audio from the provider.
var ErrFetch = errors.New("recording fetch")

// Event is one recording-complete notification. CallSID, StepKey, and
// CallerID arrive as callback query parameters; RecordingSID and
// RecordingURL arrive in the notification body.
type Event struct {
	CallSID      string
	StepKey      string
	CallerID     string
	RecordingSID string
	RecordingURL string
}

// Fetcher downloads finished recordings and hands them to the archive.
type Fetcher struct {
	client     *http.Client
	archive    *archive.Archive
	recordings ledger.RecordingRepository
	accountSID string
	authToken  string
	timeout    time.Duration
}

// New creates a fetcher authenticating with the given provider credentials.
// The HTTP client carries a digest transport so gateways that answer with a
// digest challenge work as well as ones accepting the preemptive basic
// credentials.
func New(accountSID, authToken string, timeout time.Duration, arch *archive.Archive, recs ledger.RecordingRepository) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Transport: &digest.Transport{
				Username: accountSID,
				Password: authToken,
			},
		},
		archive:    arch,
		recordings: recs,
		accountSID: accountSID,
		authToken:  authToken,
		timeout:    timeout,
	}
}

// Handle processes one recording-complete event.
//
// An event without a usable recording (empty URL or SID) is a no-op
// success: the gateway reports completion even when the caller hung up
// before the tone, and that is not an error. An event whose recording SID
// is already in the ledger is skipped — the prior delivery already stored
// the file and its metadata. Otherwise the audio is streamed to the
// archive, the caller's metadata document is rewritten, and the ledger row
// is inserted last so a failure anywhere leaves the event retryable.
func (f *Fetcher) Handle(ctx context.Context, ev Event) error {
	if ev.RecordingURL == "" || ev.RecordingSID == "" {
		slog.Debug("notification without recording, nothing to do",
			"call_sid", ev.CallSID,
			"step", ev.StepKey,
		)
		return nil
	}

	// The step key arrives on an unauthenticated webhook and becomes part
	// of the archive file path. Only script questions pass.
	if !f.archive.AcceptsStep(ev.StepKey) {
		return fmt.Errorf("notification for step %q: %w", ev.StepKey, script.ErrUnknownStep)
	}

	done, err := f.recordings.Exists(ctx, ev.RecordingSID)
	if err != nil {
		return fmt.Errorf("checking recording ledger: %w", err)
	}
	if done {
		slog.Info("recording already archived, skipping redelivery",
			"recording_sid", ev.RecordingSID,
			"call_sid", ev.CallSID,
			"step", ev.StepKey,
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.download(ctx, ev.RecordingURL)
	if err != nil {
		return err
	}
	defer body.Close()

	// Stream straight into the archive; the body is never buffered whole.
	path, err := f.archive.Store(ev.CallerID, ev.StepKey, body)
	if err != nil {
		return fmt.Errorf("storing recording %s: %w", ev.RecordingSID, err)
	}

	// Metadata is rewritten before the ledger row goes in. The ledger row
	// is what makes redelivery a no-op, so it must be the last thing to
	// succeed: a flush failure leaves the event unrecorded and the
	// gateway's retry repeats the whole write.
	if err := f.archive.FlushMetadata(ev.CallerID); err != nil {
		return fmt.Errorf("flushing metadata for %s: %w", ev.CallerID, err)
	}

	inserted, err := f.recordings.Insert(ctx, &ledger.Recording{
		RecordingSID: ev.RecordingSID,
		CallSID:      ev.CallSID,
		CallerID:     ev.CallerID,
		StepKey:      ev.StepKey,
		FilePath:     path,
	})
	if err != nil {
		return fmt.Errorf("recording ledger insert: %w", err)
	}

	slog.Info("recording archived",
		"recording_sid", ev.RecordingSID,
		"call_sid", ev.CallSID,
		"caller_id", ev.CallerID,
		"step", ev.StepKey,
		"path", path,
		"first_delivery", inserted,
	)
	return nil
}

// download fetches the audio resource behind a notified recording location.
func (f *Fetcher) download(ctx context.Context, recordingURL string) (io.ReadCloser, error) {
	url := recordingURL
	if !strings.HasSuffix(url, audioSuffix) {
		url += audioSuffix
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrFetch, err)
	}
	req.SetBasicAuth(f.accountSID, f.authToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: provider returned status %d for %s", ErrFetch, resp.StatusCode, url)
	}
	return resp.Body, nil
}
