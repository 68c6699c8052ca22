package core

// error_messages.go maps technical errors to coded user messages.
//
// Codes are grouped by category and quoted by users when reporting problems:
//
//	VAL001-VAL099  value and mapping validation
//	FILE001-FILE099 file handling and parsing
//	RES001-RES099  entity resolution
//	IMP001-IMP099  import runs, locking and throttling
//	DB001-DB099    storage
//	ERR000         fallback; check the logs for the technical error
//
// Sentinel errors are matched first with errors.Is. Other errors are matched
// by case-insensitive substring; the first matching pattern wins, so specific
// patterns precede general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

var (
	msgInvalidMapping = UserMessage{
		Message: "The column mapping is incomplete or refers to missing columns",
		Action:  "Map every required field to a column of the file",
		Code:    "VAL004",
	}
	msgInvalidCSV = UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Ensure the file is delimited text with a header row",
		Code:    "FILE002",
	}
	msgHeaderNotFound = UserMessage{
		Message: "No header row was found at the configured offset",
		Action:  "Check the header row setting for this file",
		Code:    "FILE003",
	}
	msgEmptyFile = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header and data rows",
		Code:    "FILE005",
	}
	msgResolverNotLoaded = UserMessage{
		Message: "Existing records were not loaded before matching",
		Action:  "Please try again or contact support",
		Code:    "RES001",
	}
	msgUnknownEntity = UserMessage{
		Message: "Unknown import type",
		Action:  "Choose one of the supported entity types",
		Code:    "RES002",
	}
	msgImportLocked = UserMessage{
		Message: "Another import for this team is already running",
		Action:  "Wait for it to finish and try again",
		Code:    "IMP001",
	}
	msgTooManyRuns = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "IMP003",
	}
	msgDeadline = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller sample or try again later",
		Code:    "IMP004",
	}
	msgImportNotFound = UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please stage the file again",
		Code:    "IMP005",
	}
	msgRowNotFound = UserMessage{
		Message: "Staged row not found",
		Action:  "Reload the import and try again",
		Code:    "IMP006",
	}
)

// sentinelMessages is checked before the substring patterns.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrResolverNotLoaded, msgResolverNotLoaded},
	{ErrUnknownEntity, msgUnknownEntity},
	{ErrEmptyFile, msgEmptyFile},
	{ErrHeaderNotFound, msgHeaderNotFound},
	{ErrImportLocked, msgImportLocked},
	{ErrTooManyRuns, msgTooManyRuns},
	{ErrImportNotFound, msgImportNotFound},
	{ErrRowNotFound, msgRowNotFound},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgDeadline},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Validation (VAL)
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Confirm the date format for this column or correct the value",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove currency symbols and check the decimal separator",
			Code:    "VAL002",
		},
	},
	// Mapping errors name an unmapped "required field" too
	{pattern: "invalid column mapping", msg: msgInvalidMapping},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "must be one of",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid id",
		msg: UserMessage{
			Message: "Identifier has the wrong format",
			Action:  "Use the 26-character record id exported from the system",
			Code:    "VAL006",
		},
	},

	// =========================================================================
	// File (FILE)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{pattern: "invalid csv", msg: msgInvalidCSV},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Storage (DB)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A staged row with this number already exists",
			Action:  "Stage each row range only once",
			Code:    "DB001",
		},
	},
	{
		pattern: "already exists",
		msg: UserMessage{
			Message: "A staged row with this number already exists",
			Action:  "Stage each row range only once",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller chunk or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for a nil error and ERR000 when nothing matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats an error as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. Error returns
// the user message; Unwrap returns the technical error for logging.
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

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
