// Package errors defines the pipeline error taxonomy and an ErrorCollector
// used to aggregate failures from sibling tasks that run inside one stage.
package errors

import (
	goerrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrorKind classifies where a build error came from.
type ErrorKind int

const (
	// KindConfig covers globs, ordering lists and exemptions that do not
	// resolve to anything on disk.
	KindConfig ErrorKind = iota
	// KindTransform is a per-file transform failure (compile, minify).
	KindTransform
	// KindValidation is a markup quality finding. Never fatal.
	KindValidation
	// KindIO is a missing source root or an unwritable output directory.
	KindIO
	// KindStage marks a stage that did not start because its predecessor failed.
	KindStage
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransform:
		return "transform"
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	case KindStage:
		return "stage"
	default:
		return "unknown"
	}
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// BuildError represents a build error
type BuildError struct {
	Kind      ErrorKind
	Stage     string
	Class     string
	File      string
	Line      int
	Message   string
	Severity  ErrorSeverity
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (be *BuildError) Error() string {
	location := be.File
	if location == "" {
		location = be.Class
	}
	if be.Line > 0 {
		location = fmt.Sprintf("%s:%d", location, be.Line)
	}

	msg := be.Message
	if be.Err != nil {
		if msg == "" {
			msg = be.Err.Error()
		} else {
			msg = msg + ": " + be.Err.Error()
		}
	}

	if location == "" {
		return fmt.Sprintf("%s %s: %s", be.Kind, be.Severity, msg)
	}
	return fmt.Sprintf("%s: %s %s: %s", location, be.Kind, be.Severity, msg)
}

// Unwrap returns the underlying cause.
func (be *BuildError) Unwrap() error {
	return be.Err
}

// IsFatal reports whether the error should fail its bundle or class.
func (be *BuildError) IsFatal() bool {
	return be.Severity >= ErrorSeverityError
}

// NewTransformError reports a transform failure for one file of a class.
func NewTransformError(class, file string, err error) *BuildError {
	return &BuildError{
		Kind:     KindTransform,
		Class:    class,
		File:     file,
		Severity: ErrorSeverityError,
		Err:      err,
	}
}

// NewIOError reports a filesystem failure.
func NewIOError(op, path string, err error) *BuildError {
	return &BuildError{
		Kind:     KindIO,
		File:     path,
		Message:  op,
		Severity: ErrorSeverityFatal,
		Err:      err,
	}
}

// NewValidationWarning reports a non-fatal markup finding.
func NewValidationWarning(file string, line int, message string) *BuildError {
	return &BuildError{
		Kind:     KindValidation,
		File:     file,
		Line:     line,
		Message:  message,
		Severity: ErrorSeverityWarning,
	}
}

// NewConfigWarning reports a configuration entry that resolves to nothing.
func NewConfigWarning(class, message string) *BuildError {
	return &BuildError{
		Kind:     KindConfig,
		Class:    class,
		Message:  message,
		Severity: ErrorSeverityWarning,
	}
}

// ErrStageSkipped is returned for a stage that never started.
var ErrStageSkipped = goerrors.New("stage skipped: previous stage failed")

// NewStageError wraps a predecessor failure for the stage that was skipped.
func NewStageError(stage string, cause error) *BuildError {
	return &BuildError{
		Kind:     KindStage,
		Stage:    stage,
		Class:    stage,
		Severity: ErrorSeverityFatal,
		Err:      fmt.Errorf("%w: %w", ErrStageSkipped, cause),
	}
}

// AsBuildError extracts a *BuildError from err's chain.
func AsBuildError(err error) (*BuildError, bool) {
	var be *BuildError
	if goerrors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// ErrorCollector collects and manages build errors and general errors
type ErrorCollector struct {
	buildErrors []BuildError
	errors      []error
	mutex       sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		buildErrors: make([]BuildError, 0),
		errors:      make([]error, 0),
	}
}

// Add adds a build error to the collector
func (ec *ErrorCollector) Add(err BuildError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	ec.buildErrors = append(ec.buildErrors, err)
}

// AddError adds a general error to the collector. A *BuildError anywhere in
// the chain is recorded as a build error so its severity is kept.
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	if be, ok := AsBuildError(err); ok && be == err {
		ec.Add(*be)
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetErrors returns all collected build errors
func (ec *ErrorCollector) GetErrors() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]BuildError, len(ec.buildErrors))
	copy(result, ec.buildErrors)
	return result
}

// Warnings returns the collected non-fatal build errors.
func (ec *ErrorCollector) Warnings() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var warnings []BuildError
	for _, be := range ec.buildErrors {
		if !be.IsFatal() {
			warnings = append(warnings, be)
		}
	}
	return warnings
}

// HasErrors reports whether any fatal error was collected.
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if len(ec.errors) > 0 {
		return true
	}
	for _, be := range ec.buildErrors {
		if be.IsFatal() {
			return true
		}
	}
	return false
}

// Err joins every fatal error in a stable order, or returns nil.
func (ec *ErrorCollector) Err() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	fatal := make([]error, 0, len(ec.buildErrors)+len(ec.errors))
	for i := range ec.buildErrors {
		if ec.buildErrors[i].IsFatal() {
			be := ec.buildErrors[i]
			fatal = append(fatal, &be)
		}
	}
	fatal = append(fatal, ec.errors...)
	if len(fatal) == 0 {
		return nil
	}

	// Sibling tasks finish in any order; sort so reports are reproducible.
	sort.SliceStable(fatal, func(i, j int) bool {
		return fatal[i].Error() < fatal[j].Error()
	})
	return goerrors.Join(fatal...)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.buildErrors = ec.buildErrors[:0]
	ec.errors = ec.errors[:0]
}

// GetErrorsByFile returns errors for a specific file
func (ec *ErrorCollector) GetErrorsByFile(file string) []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var fileErrors []BuildError
	for _, err := range ec.buildErrors {
		if err.File == file {
			fileErrors = append(fileErrors, err)
		}
	}
	return fileErrors
}

// GetErrorsByClass returns errors for a specific asset class
func (ec *ErrorCollector) GetErrorsByClass(class string) []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var classErrors []BuildError
	for _, err := range ec.buildErrors {
		if err.Class == class {
			classErrors = append(classErrors, err)
		}
	}
	return classErrors
}
