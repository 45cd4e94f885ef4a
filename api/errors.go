package api

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these with errors.Is.
var (
	// ErrConfiguration marks a broken deployment: bad rule set, unknown routing
	// key, unknown extension. It aborts a run before or while products are processed.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolutionMiss marks a query that found nothing. The rule's key is omitted.
	ErrResolutionMiss = errors.New("resolution miss")
	// ErrCoercion marks a raw value that cannot be cast to its declared type.
	ErrCoercion = errors.New("coercion error")
	// ErrAssembly marks an Item that cannot be turned into a valid document.
	ErrAssembly = errors.New("assembly error")
	// ErrRemoteContext marks a failed or timed out remote-context lookup.
	ErrRemoteContext = errors.New("remote context error")
)

// IsConfiguration reports whether err must abort the whole run.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// ConfigError describes a configuration problem, located when possible.
type ConfigError struct {
	Source string // file:line, or a component name
	Msg    string
	Err    error
}

// Configf builds a ConfigError with a formatted message.
func Configf(source, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.Source == "" {
		return "configuration: " + msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Source, msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// MissError is returned when a query selects nothing.
type MissError struct {
	File  string
	Query string
}

func (e *MissError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("no value for %q", e.Query)
	}
	return fmt.Sprintf("no value for %q in %s", e.Query, e.File)
}

func (e *MissError) Is(target error) bool { return target == ErrResolutionMiss }

// CoercionError carries the full context of a failed cast.
type CoercionError struct {
	Key        string
	File       string
	Expression string
	Raw        any
	Target     Datatype
	Err        error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s=%#v (file %s, expression %q) to %s: %v",
		e.Key, e.Raw, e.File, e.Expression, e.Target, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }

func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

// RuleError attributes a fatal failure to the rule that caused it.
type RuleError struct {
	Index int // zero-based position in the rule set
	Rule  MappingRule
	Path  string // resolved product file, empty for static rows
	Err   error
}

func (e *RuleError) Error() string {
	file := e.Path
	if file == "" {
		file = e.Rule.File
	}
	return fmt.Sprintf("rule %d (%s, file %s, expression %q): %v",
		e.Index, e.Rule.Metadata, file, e.Rule.Mappings, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// AssemblyError reports an Item that cannot be emitted.
type AssemblyError struct {
	Item  string
	Field string
	Msg   string
}

func (e *AssemblyError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("item %s: %s", e.Item, e.Msg)
	}
	return fmt.Sprintf("item %s: %s: %s", e.Item, e.Field, e.Msg)
}

func (e *AssemblyError) Is(target error) bool { return target == ErrAssembly }

// RemoteContextError wraps a failed remote-context lookup for one product.
type RemoteContextError struct {
	Product string
	Err     error
}

func (e *RemoteContextError) Error() string {
	return fmt.Sprintf("remote context for %s: %v", e.Product, e.Err)
}

func (e *RemoteContextError) Unwrap() error { return e.Err }

func (e *RemoteContextError) Is(target error) bool { return target == ErrRemoteContext }
