package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"resolvd/internal/common/fsutil"
	"resolvd/pkg/types"
)

// progressInterval throttles progress events to at most 4 per second.
const progressInterval = 250 * time.Millisecond

// pausePoll is how often a parked worker re-checks a paused task.
const pausePoll = 200 * time.Millisecond

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queueCh:
			m.runTask(id)
		}
	}
}

func (m *Manager) runTask(id int64) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.State != types.TaskQueued {
		// cancelled while queued, or already handled
		m.dropFromQueueLocked(id)
		m.mu.Unlock()
		return
	}
	m.dropFromQueueLocked(id)
	t.State = types.TaskActive
	now := time.Now()
	t.StartedAt = &now
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.PerTaskTimeout)
	defer cancel()

	err := m.transferWithRetry(ctx, id)
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok = m.tasks[id]
	if !ok {
		return
	}
	switch {
	case err == nil:
		m.finishLocked(t, types.TaskSucceeded, nil)
		m.log.Info().Int64("task", id).Str("target", t.TargetPath).Msg("download complete")
	case errors.Is(err, context.Canceled) || t.State == types.TaskCancelled:
		_ = os.Remove(t.TempPath)
		m.finishLocked(t, types.TaskCancelled, context.Canceled)
		m.log.Info().Int64("task", id).Msg("download cancelled")
	default:
		m.finishLocked(t, types.TaskFailed, err)
		m.log.Warn().Int64("task", id).Err(err).Msg("download failed")
	}
	m.publish(types.ProgressEvent{
		TaskID:      id,
		Filename:    t.Ref.Filename,
		State:       t.State,
		Transferred: t.Transferred,
		TotalBytes:  t.TotalBytes,
	})
}

func (m *Manager) dropFromQueueLocked(id int64) {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// transferWithRetry wraps one task's transfer in the exponential
// backoff policy: base 1s, cap 30s, up to the configured retry budget.
// Permanent failures, cancellation and integrity errors end the loop
// immediately.
func (m *Manager) transferWithRetry(ctx context.Context, id int64) error {
	attempt := 0
	op := func() error {
		if attempt > 0 {
			m.mu.Lock()
			if t, ok := m.tasks[id]; ok {
				t.Retries = attempt
			}
			m.mu.Unlock()
		}
		attempt++
		err := m.transfer(ctx, id)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || IsPermanent(err) || IsIntegrity(err) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.Retries)), ctx))
}

// transfer performs one attempt: short-circuit on an existing complete
// file, probe the remote, resume from the temp file when ranges are
// supported, stream chunks, verify size, rename into place.
func (m *Manager) transfer(ctx context.Context, id int64) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return context.Canceled
	}
	url := t.SourceURL
	target := t.TargetPath
	temp := t.TempPath
	expected := t.ExpectedSize
	filename := t.Ref.Filename
	m.mu.Unlock()

	if expected > 0 && fsutil.FileSize(target) == expected {
		return nil
	}
	if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
		return ErrPermanent(err)
	}

	headers := m.headersFor(url)

	totalSize, ranged, err := m.probe(ctx, url, headers)
	if err != nil {
		return err
	}
	if totalSize == 0 && expected > 0 {
		totalSize = expected
	}
	m.mu.Lock()
	if t, ok := m.tasks[id]; ok {
		t.TotalBytes = totalSize
	}
	m.mu.Unlock()

	offset := int64(0)
	if ranged {
		offset = fsutil.FileSize(temp)
	} else {
		_ = os.Remove(temp)
	}
	if totalSize > 0 && offset == totalSize {
		// a previous attempt already has every byte
		return m.complete(id, temp, target, totalSize, expected)
	}
	if totalSize > 0 && offset > totalSize {
		// temp is corrupt; start over
		_ = os.Remove(temp)
		offset = 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ErrPermanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// remote ignored the range; restart from zero
			offset = 0
			_ = os.Remove(temp)
		}
	case resp.StatusCode == http.StatusPartialContent:
		// resuming as requested
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("remote returned %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrPermanent(fmt.Errorf("remote returned %d for %s", resp.StatusCode, url))
	case resp.StatusCode >= 500:
		return fmt.Errorf("remote returned %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(temp, flags, 0o644)
	if err != nil {
		return ErrPermanent(err)
	}

	written, err := m.stream(ctx, id, f, resp.Body, offset, totalSize, filename)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return classifyWriteError(closeErr)
	}
	transferred := offset + written
	if totalSize > 0 && transferred < totalSize {
		// the connection ended early; keep the temp file so the next
		// attempt resumes from here
		return fmt.Errorf("short transfer: %d of %d bytes", transferred, totalSize)
	}
	return m.complete(id, temp, target, transferred, expected)
}

// probe issues the HEAD request: returns the content length (0 when
// unknown) and whether the remote accepts byte ranges.
func (m *Manager) probe(ctx context.Context, url string, headers map[string]string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, ErrPermanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		// no HEAD support; proceed without resume
		return 0, false, nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false, ErrPermanent(fmt.Errorf("remote returned %d for %s", resp.StatusCode, url))
	}
	if resp.StatusCode >= 400 {
		return 0, false, fmt.Errorf("remote returned %d", resp.StatusCode)
	}
	ranged := strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	return size, ranged, nil
}

// stream copies the body to f in chunks, honoring pause and cancel
// between chunks and publishing throttled progress.
func (m *Manager) stream(ctx context.Context, id int64, f *os.File, body io.Reader, offset, total int64, filename string) (int64, error) {
	buf := make([]byte, m.cfg.ChunkBytes)
	var written int64
	lastEvent := time.Time{}
	lastBytes := offset
	lastTick := time.Now()

	for {
		// cooperative control point between chunks
		for {
			state, ok := m.state(id)
			if !ok || state == types.TaskCancelled {
				return written, context.Canceled
			}
			if state != types.TaskPaused {
				break
			}
			m.publishThrottled(&lastEvent, types.ProgressEvent{
				TaskID: id, Filename: filename, State: types.TaskPaused,
				Transferred: offset + written, TotalBytes: total,
			})
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-time.After(pausePoll):
			}
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, err := io.ReadFull(body, buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, classifyWriteError(werr)
			}
			written += int64(n)
			bytesTransferred.Add(float64(n))

			now := time.Now()
			rate := 0.0
			if dt := now.Sub(lastTick).Seconds(); dt > 0 {
				rate = float64(offset+written-lastBytes) / dt
			}
			m.publishThrottled(&lastEvent, types.ProgressEvent{
				TaskID: id, Filename: filename, State: types.TaskActive,
				Transferred: offset + written, TotalBytes: total, Rate: rate,
			})
			if time.Since(lastTick) >= progressInterval {
				lastTick = now
				lastBytes = offset + written
			}
			m.mu.Lock()
			if t, ok := m.tasks[id]; ok {
				t.Transferred = offset + written
			}
			m.mu.Unlock()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (m *Manager) publishThrottled(last *time.Time, ev types.ProgressEvent) {
	if time.Since(*last) < progressInterval {
		return
	}
	*last = time.Now()
	m.publish(ev)
}

// complete verifies the transferred size and renames the temp file
// into place. The target appears atomically or not at all.
func (m *Manager) complete(id int64, temp, target string, got, expected int64) error {
	if expected > 0 && got != expected {
		_ = os.Remove(temp)
		return ErrIntegrity(target, expected, got)
	}
	if err := fsutil.SameDirRename(temp, target); err != nil {
		return classifyWriteError(err)
	}
	m.mu.Lock()
	if t, ok := m.tasks[id]; ok {
		t.Transferred = got
		if t.TotalBytes == 0 {
			t.TotalBytes = got
		}
	}
	m.mu.Unlock()
	return nil
}

// classifyWriteError marks local filesystem failures, disk-full
// included, as non-retriable.
func classifyWriteError(err error) error {
	return ErrPermanent(err)
}

const userAgent = "resolvd/1.0"
