// Package scheduler runs a batch of download items over a bounded worker pool
// and collects one outcome per item.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/integrity"
	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/publish"
	"github.com/tanq16/grabber/internal/retry"
	"github.com/tanq16/grabber/internal/task"
	"github.com/tanq16/grabber/internal/transport"
	"github.com/tanq16/grabber/internal/utils"
	"golang.org/x/sync/errgroup"
)

type Scheduler struct {
	cfg       utils.DownloadConfig
	transport transport.Transport
	sink      progress.Sink
	retryOpts []retry.Option
}

type Option func(*Scheduler)

func WithTransport(t transport.Transport) Option {
	return func(s *Scheduler) { s.transport = t }
}

// WithSink sends progress events to sink. If it also has a Register method, every
// item is registered before any starts.
func WithSink(sink progress.Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Scheduler) { s.retryOpts = append(s.retryOpts, opts...) }
}

// DefaultTransport serves http, https and s3 URLs.
func DefaultTransport(cfg utils.DownloadConfig) *transport.Mux {
	mux := transport.NewMux()
	h := transport.NewHTTP(utils.NewHTTPClient(cfg.HTTPClientConfig, cfg.ConnectTimeout))
	mux.Handle("http", h)
	mux.Handle("https", h)
	mux.Handle("s3", transport.NewS3(cfg.HTTPClientConfig.AWSProfile))
	return mux
}

// New validates cfg once; the scheduler then shares it read-only with every task.
func New(cfg utils.DownloadConfig, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{cfg: cfg, sink: progress.Discard}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = DefaultTransport(cfg)
	}
	return s, nil
}

func (s *Scheduler) Config() utils.DownloadConfig {
	return s.cfg
}

type registrar interface {
	Register(id, url, target string)
}

type checker interface {
	Check(link string) error
}

// Prepare returns a copy of items with IDs assigned, or a config error describing
// every item that cannot succeed. Nothing touches the network. Items that already
// carry an ID keep it, so a prepared batch can be passed to Run unchanged.
func (s *Scheduler) Prepare(items []utils.DownloadItem) ([]utils.DownloadItem, error) {
	prepared := make([]utils.DownloadItem, len(items))
	var errs []error
	targets := make(map[string]int)
	ids := make(map[string]int)
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if j, dup := ids[item.ID]; dup {
			errs = append(errs, fmt.Errorf("item %d: id %q already used by item %d", i, item.ID, j))
		}
		ids[item.ID] = i
		if err := s.checkURL(item.URL); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
		}
		if item.OutputPath == "" {
			errs = append(errs, fmt.Errorf("item %d: no output path", i))
		} else {
			item.OutputPath = filepath.Clean(item.OutputPath)
			key := item.OutputPath
			if abs, err := filepath.Abs(key); err == nil {
				key = abs
			}
			if j, dup := targets[key]; dup {
				errs = append(errs, fmt.Errorf("item %d: output path %s already used by item %d", i, item.OutputPath, j))
			}
			targets[key] = i
		}
		if spec := item.Integrity; spec != nil {
			if !spec.Algorithm.Supported() {
				errs = append(errs, fmt.Errorf("item %d: unsupported digest algorithm %q", i, spec.Algorithm))
			} else if err := integrity.ValidateDigest(spec.Algorithm, spec.Expected); err != nil {
				errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			}
		}
		prepared[i] = item
	}
	if err := errors.Join(errs...); err != nil {
		return nil, utils.NewError(utils.KindConfig, "scheduler/submit", err)
	}
	return prepared, nil
}

func (s *Scheduler) checkURL(link string) error {
	if link == "" {
		return errors.New("no URL")
	}
	if c, ok := s.transport.(checker); ok {
		return c.Check(link)
	}
	u, err := url.Parse(link)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL %q needs a scheme and a host", link)
	}
	return nil
}

// Run downloads every item with at most MaxConcurrent in flight and returns
// once all are terminal. Items are admitted in submission order and the report
// lists outcomes in that same order. A failed item never stops the others.
// The only error returned is a config error from Prepare, before any work starts.
func (s *Scheduler) Run(ctx context.Context, items []utils.DownloadItem) (utils.Report, error) {
	prepared, err := s.Prepare(items)
	if err != nil {
		return utils.Report{}, err
	}
	if reg, ok := s.sink.(registrar); ok {
		for _, item := range prepared {
			reg.Register(item.ID, item.URL, item.OutputPath)
		}
	}

	outcomes := make([]utils.Outcome, len(prepared))
	jobCh := make(chan int, len(prepared))
	for i := range prepared {
		jobCh <- i
	}
	close(jobCh)

	ctrl := retry.NewController(s.cfg.Retry, s.retryOpts...)
	numWorkers := min(s.cfg.MaxConcurrent, len(prepared))
	log.Debug().Str("op", "scheduler/run").Int("items", len(prepared)).Int("workers", numWorkers).Msg("Starting workers")

	var g errgroup.Group
	for w := range numWorkers {
		g.Go(func() error {
			for i := range jobCh {
				log.Debug().Str("op", "scheduler/worker").Int("worker", w).Str("item", prepared[i].ID).Msg("Admitted")
				outcomes[i] = task.New(prepared[i], &s.cfg, s.transport, ctrl, s.sink).Run(ctx)
			}
			return nil
		})
	}
	g.Wait()

	targets := make([]string, len(prepared))
	for i, item := range prepared {
		targets[i] = item.OutputPath
	}
	publish.Sweep(targets)

	report := utils.Report{Outcomes: outcomes}
	log.Info().Str("op", "scheduler/run").Int("succeeded", report.Succeeded()).Int("failed", len(report.Failed())).Msg("All items finished")
	return report, nil
}
