package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/tanq16/grabber/internal/integrity"
	"github.com/tanq16/grabber/internal/retry"
)

type IntegritySpec struct {
	Algorithm integrity.Algorithm
	Expected  string
}

// DownloadItem is one resource to fetch. It is not modified once submitted.
type DownloadItem struct {
	ID         string
	URL        string
	OutputPath string
	Integrity  *IntegritySpec
}

type HTTPClientConfig struct {
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
	BearerToken   string
	AWSProfile    string
}

// DownloadConfig is built once per run and shared read-only by every task.
type DownloadConfig struct {
	MaxConcurrent    int
	ConnectTimeout   time.Duration
	Timeout          time.Duration
	FlushThreshold   int
	Retry            retry.Policy
	HTTPClientConfig HTTPClientConfig
}

func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		MaxConcurrent:  DefaultMaxConcurrent,
		ConnectTimeout: DefaultConnectTimeout,
		Timeout:        DefaultTimeout,
		FlushThreshold: DefaultFlushThreshold,
		Retry:          retry.DefaultPolicy(),
		HTTPClientConfig: HTTPClientConfig{
			KATimeout: 90 * time.Second,
			UserAgent: ToolUserAgent,
			Headers:   map[string]string{},
		},
	}
}

func (c DownloadConfig) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent downloads must be positive, got %d", c.MaxConcurrent))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.FlushThreshold < 1 {
		errs = append(errs, fmt.Errorf("flush threshold must be positive, got %d", c.FlushThreshold))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return NewError(KindConfig, "config", err)
	}
	return nil
}

// Stage is where an item currently is in its download lifecycle.
type Stage int

const (
	StageQueued Stage = iota
	StageConnecting
	StageStreaming
	StageVerifying
	StageFinalizing
	StageSucceeded
	StageFailed
)

var stageNames = [...]string{"queued", "connecting", "streaming", "verifying", "finalizing", "succeeded", "failed"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Outcome is the terminal result for one item.
type Outcome struct {
	ItemID   string
	URL      string
	Target   string
	Path     string // set on success
	Err      error  // set on failure
	Attempts int
	Bytes    int64
	Duration time.Duration
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

func (o Outcome) Kind() ErrorKind {
	return KindOf(o.Err)
}

// Report holds one Outcome per submitted item, in submission order.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}
