package view

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports a definition that was configured twice or
// with invalid content. It is returned by the setter that caused it.
type ConfigurationError struct {
	// Field names the container or property at fault.
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("view configuration: %s: %s", e.Field, e.Message)
}

// MergeConflictError reports a transient property declared with two
// different types by the definitions being merged.
type MergeConflictError struct {
	Property  string
	LocalType string
	OtherType string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("view merge: transient property %q is %s locally but %s in the merged definition",
		e.Property, e.LocalType, e.OtherType)
}

// DocumentError lists every problem found while validating a view
// document against its JSON schema.
type DocumentError struct {
	Problems []string
}

func (e *DocumentError) Error() string {
	return "invalid view document: " + strings.Join(e.Problems, "; ")
}

// ValidationError reports a view that does not fit a schema.
type ValidationError struct {
	Group   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("view group %q: %s", e.Group, e.Message)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsMergeConflictError reports whether err is or wraps a MergeConflictError.
func IsMergeConflictError(err error) bool {
	var me *MergeConflictError
	return errors.As(err, &me)
}
