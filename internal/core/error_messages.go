package core

// Error codes reported to users alongside a short message and an action.
// Users quote the code; support looks it up here.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Source not found        Patterns: "no such file", "file does not exist"
//	FILE002 - Permission denied       Patterns: "permission denied"
//	FILE003 - Source is a directory   Patterns: "is a directory"
//	FILE004 - Line too long           Patterns: "line too long"
//	FILE005 - Source unreadable       Patterns: "open source" (any other open fault)
//	FILE006 - No file provided        Patterns: "no file provided"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid email            Patterns: "valid email"
//	VAL002 - Required field empty     Patterns: "is required"
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - System busy              Patterns: "too many concurrent runs"
//	ING002 - Run cancelled            Patterns: "context canceled"
//	ING003 - Run timed out            Patterns: "context deadline exceeded"
//	ING004 - Invalid batch size       Patterns: "invalid batch size"
//	ING005 - Handler crashed          Patterns: "handler panic"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key             Patterns: "duplicate key", "violates unique"
//	DB002 - Record skipped            Patterns: "not inserted"
//	DB003 - Connection refused        Patterns: "connection refused"
//	DB004 - Connection reset          Patterns: "connection reset"
//	DB005 - Timeout                   Patterns: "timeout"
//	DB006 - Deadlock                  Patterns: "deadlock"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgNotFound = UserMessage{
		Message: "The source file was not found",
		Action:  "Check the path and try again",
		Code:    "FILE001",
	}
	msgDuplicate = UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Remove duplicate ids from the file",
		Code:    "DB001",
	}
)

var errorPatterns = []errorPattern{
	// File errors. "open source" is last: it prefixes every open fault.
	{pattern: "no such file", msg: msgNotFound},
	{pattern: "file does not exist", msg: msgNotFound},
	{pattern: "permission denied", msg: UserMessage{
		Message: "The source file cannot be read",
		Action:  "Check the file permissions",
		Code:    "FILE002",
	}},
	{pattern: "is a directory", msg: UserMessage{
		Message: "The source is a directory, not a file",
		Action:  "Pass the path of a CSV file",
		Code:    "FILE003",
	}},
	{pattern: "line too long", msg: UserMessage{
		Message: "A line exceeds the maximum line length",
		Action:  "Check the file is line-delimited CSV or raise INGEST_MAX_LINE_BYTES",
		Code:    "FILE004",
	}},
	{pattern: "open source", msg: UserMessage{
		Message: "The source file could not be opened",
		Action:  "Check the path and try again",
		Code:    "FILE005",
	}},
	{pattern: "no file provided", msg: UserMessage{
		Message: "No file was provided",
		Action:  "Send the CSV as the request body or a \"file\" form field",
		Code:    "FILE006",
	}},

	// Validation errors.
	{pattern: "valid email", msg: UserMessage{
		Message: "An email address is invalid",
		Action:  "Correct the email column of the failed rows",
		Code:    "VAL001",
	}},
	{pattern: "is required", msg: UserMessage{
		Message: "A required field is empty",
		Action:  "Ensure every row has id, nombre and email",
		Code:    "VAL002",
	}},

	// Ingestion errors. Listed before database errors so a deadline is not
	// reported as a database timeout.
	{pattern: "too many concurrent runs", msg: UserMessage{
		Message: "System is busy processing other files",
		Action:  "Please wait a moment and try again",
		Code:    "ING001",
	}},
	{pattern: "context canceled", msg: UserMessage{
		Message: "The run was cancelled",
		Action:  "Start a new run when ready",
		Code:    "ING002",
	}},
	{pattern: "context deadline exceeded", msg: UserMessage{
		Message: "The run timed out",
		Action:  "Try a smaller file or raise INGEST_TIMEOUT",
		Code:    "ING003",
	}},
	{pattern: "invalid batch size", msg: UserMessage{
		Message: "The batch size must be greater than zero",
		Action:  "Fix INGEST_BATCH_SIZE",
		Code:    "ING004",
	}},
	{pattern: "handler panic", msg: UserMessage{
		Message: "Processing a record crashed",
		Action:  "Check the logs for the failing line",
		Code:    "ING005",
	}},

	// Database errors.
	{pattern: "duplicate key", msg: msgDuplicate},
	{pattern: "violates unique", msg: msgDuplicate},
	{pattern: "not inserted", msg: UserMessage{
		Message: "The record was already stored and was skipped",
		Action:  "No action needed unless the record should have changed",
		Code:    "DB002",
	}},
	{pattern: "connection refused", msg: UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{pattern: "connection reset", msg: UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{pattern: "timeout", msg: UserMessage{
		Message: "Operation timed out",
		Action:  "Please try again later",
		Code:    "DB005",
	}},
	{pattern: "deadlock", msg: UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB006",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The first
// matching pattern wins; ERR000 is returned when none matches and the zero
// UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. It returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
