// Package task runs one download item through connect, stream, verify and
// publish, retrying failed attempts according to the retry policy.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/integrity"
	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/publish"
	"github.com/tanq16/grabber/internal/retry"
	"github.com/tanq16/grabber/internal/transport"
	"github.com/tanq16/grabber/internal/utils"
)

// ErrOverallTimeout is the cancellation cause when an attempt exceeds the overall timeout.
var ErrOverallTimeout = errors.New("overall timeout exceeded")

const maxReadSize = 32 * 1024

type Task struct {
	item      utils.DownloadItem
	cfg       *utils.DownloadConfig
	transport transport.Transport
	ctrl      *retry.Controller
	sink      progress.Sink
	machine   *Machine
}

func New(item utils.DownloadItem, cfg *utils.DownloadConfig, tr transport.Transport, ctrl *retry.Controller, sink progress.Sink) *Task {
	if sink == nil {
		sink = progress.Discard
	}
	return &Task{
		item:      item,
		cfg:       cfg,
		transport: tr,
		ctrl:      ctrl,
		sink:      sink,
		machine:   NewMachine(item.ID, sink),
	}
}

func (t *Task) Stage() utils.Stage {
	return t.machine.Stage()
}

func (t *Task) emit(ev progress.Event) {
	ev.ItemID = t.item.ID
	ev.Time = time.Now()
	t.sink.Publish(ev)
}

// Run processes the item to a terminal state and returns its outcome. It never
// returns early on a failed attempt unless the error is terminal or the retry
// policy is exhausted.
func (t *Task) Run(ctx context.Context) utils.Outcome {
	start := time.Now()
	t.emit(progress.Event{Type: progress.EventStarted, URL: t.item.URL, Target: t.item.OutputPath})
	log.Debug().Str("op", "task/run").Str("item", t.item.ID).Str("url", t.item.URL).Msg("Task started")

	var attempts int
	var bytes int64
	err := t.ctrl.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		n, err := t.attempt(ctx)
		bytes = n
		return err
	}, func(next int, delay time.Duration, err error) {
		log.Warn().Str("op", "task/retry").Str("item", t.item.ID).Err(err).Int("attempt", next).Dur("delay", delay).Msg("Attempt failed, retrying")
		t.emit(progress.Event{Type: progress.EventRetrying, Attempt: next, Delay: delay, Err: err})
	})

	outcome := utils.Outcome{
		ItemID:   t.item.ID,
		URL:      t.item.URL,
		Target:   t.item.OutputPath,
		Attempts: attempts,
		Bytes:    bytes,
		Duration: time.Since(start),
	}
	if err != nil {
		outcome.Err = err
		t.machine.To(utils.StageFailed)
		log.Error().Str("op", "task/run").Str("item", t.item.ID).Err(err).Int("attempts", attempts).Msg("Download failed")
	} else {
		outcome.Path = t.item.OutputPath
		t.machine.To(utils.StageSucceeded)
		log.Info().Str("op", "task/run").Str("item", t.item.ID).Str("path", outcome.Path).Int64("bytes", bytes).Msg("Download completed")
	}
	t.emit(progress.Event{Type: progress.EventFinished, Outcome: &outcome})
	return outcome
}

// attempt is one pass through Connecting, Streaming, Verifying and Finalizing.
// The staging file is discarded on every path except a successful commit.
func (t *Task) attempt(ctx context.Context) (int64, error) {
	if err := t.machine.To(utils.StageConnecting); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeoutCause(ctx, t.cfg.Timeout, ErrOverallTimeout)
	defer cancel()

	resp, err := t.transport.Open(ctx, t.item.URL, t.cfg.ConnectTimeout)
	if err != nil {
		return 0, classify(ctx, "task/connect", err)
	}
	defer resp.Body.Close()

	staging, err := publish.Stage(t.item.OutputPath)
	if err != nil {
		return 0, utils.NewError(utils.KindFilesystemStaging, "task/stage", err)
	}
	defer staging.Discard()

	var verifier *integrity.Verifier
	if spec := t.item.Integrity; spec != nil {
		verifier, err = integrity.NewVerifier(spec.Algorithm, spec.Expected)
		if err != nil {
			return 0, utils.NewError(utils.KindConfig, "task/verify", err)
		}
	}

	if err := t.machine.To(utils.StageStreaming); err != nil {
		return 0, err
	}
	n, err := t.stream(ctx, resp, staging, verifier)
	if err != nil {
		return n, err
	}

	if err := t.machine.To(utils.StageVerifying); err != nil {
		return n, err
	}
	if verifier != nil {
		if err := verifier.Verify(); err != nil {
			return n, utils.NewError(utils.KindIntegrityMismatch, "task/verify", err)
		}
		log.Debug().Str("op", "task/verify").Str("item", t.item.ID).Str("digest", verifier.Sum()).Msg("Digest verified")
	}

	if err := t.machine.To(utils.StageFinalizing); err != nil {
		return n, err
	}
	if err := staging.Commit(); err != nil {
		return n, utils.NewError(utils.KindFilesystemFinalize, "task/finalize", err)
	}
	return n, nil
}

// stream copies the body into staging through a buffer of FlushThreshold bytes,
// publishing progress on every flush. It returns the number of bytes received.
func (t *Task) stream(ctx context.Context, resp *transport.Response, staging *publish.Staging, verifier *integrity.Verifier) (int64, error) {
	threshold := t.cfg.FlushThreshold
	total := max(resp.ContentLength, 0)
	buf := make([]byte, 0, threshold)
	chunk := make([]byte, min(maxReadSize, threshold))
	var received int64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := staging.Write(buf); err != nil {
			return utils.NewError(utils.KindFilesystemStaging, "task/stream", err)
		}
		buf = buf[:0]
		t.emit(progress.Event{Type: progress.EventBytesTransferred, Bytes: staging.Written(), Total: total})
		return nil
	}

	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			received += int64(n)
			if verifier != nil {
				verifier.Write(chunk[:n])
			}
			buf = append(buf, chunk[:n]...)
			if len(buf) >= threshold {
				if err := flush(); err != nil {
					return received, err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return received, classify(ctx, "task/stream", rerr)
		}
	}
	if err := flush(); err != nil {
		return received, err
	}
	if resp.ContentLength >= 0 && received != resp.ContentLength {
		return received, utils.Errorf(utils.KindTransportTransient, "task/stream", "body ended after %d of %d bytes", received, resp.ContentLength)
	}
	if err := staging.Sync(); err != nil {
		return received, utils.NewError(utils.KindFilesystemStaging, "task/stream", err)
	}
	log.Debug().Str("op", "task/stream").Str("item", t.item.ID).Int64("bytes", received).Msg("Stream complete")
	return received, nil
}

// classify tags errors from transports that do not classify their own.
func classify(ctx context.Context, op string, err error) error {
	var de *utils.DownloadError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(context.Cause(ctx), ErrOverallTimeout):
		return utils.NewError(utils.KindTimeout, op, fmt.Errorf("%w: %w", ErrOverallTimeout, err))
	case ctx.Err() != nil:
		return err
	}
	return utils.NewError(utils.KindTransportTransient, op, err)
}
