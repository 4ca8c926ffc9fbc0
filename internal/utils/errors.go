package utils

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransportTransient
	KindTransportTerminal
	KindTimeout
	KindIntegrityMismatch
	KindFilesystemStaging
	KindFilesystemFinalize
	KindConfig
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindTransportTransient: "transport-transient",
	KindTransportTerminal:  "transport-terminal",
	KindTimeout:            "timeout",
	KindIntegrityMismatch:  "integrity-mismatch",
	KindFilesystemStaging:  "filesystem-staging",
	KindFilesystemFinalize: "filesystem-finalize",
	KindConfig:             "config",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// DownloadError tags an error with its kind so the retry controller and the report can act on it.
type DownloadError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *DownloadError {
	return &DownloadError{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op, format string, args ...any) *DownloadError {
	return &DownloadError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *DownloadError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func (e *DownloadError) Retryable() bool {
	return e.Kind == KindTransportTransient || e.Kind == KindTimeout
}

// KindOf returns the kind of the outermost DownloadError in err's chain.
func KindOf(err error) ErrorKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
