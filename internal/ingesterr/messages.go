package ingesterr

// # Error Codes Reference
//
// Codes appear in outcome lines and in the status API so an operator can look
// a failure up without reading the technical log entry.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Unable to connect to the destination database        ("connection refused", "no such host")
//	DB002 - Database connection was interrupted                  ("connection reset", "broken pipe")
//	DB003 - Authentication failed                                 ("password authentication failed")
//	DB004 - Operation timed out                                   ("timeout", "context deadline exceeded")
//	DB005 - Permission denied on the destination schema           ("permission denied")
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File disappeared before it could be read             ("no such file")
//	FILE002 - File could not be parsed as a table                  (KindParse)
//	FILE003 - File is neither valid UTF-8 nor Latin-1              (KindDecode, "encoding error")
//	FILE004 - File format is not supported                          (KindUnsupported)
//	FILE005 - File has no header row                               ("empty file")
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD001 - Header does not form a valid table schema            (KindSchemaConflict)
//	LOAD002 - Bulk load failed and was rolled back                 (KindLoad)
//	LOAD003 - File name does not produce a usable table name       ("invalid table name")
//
// # Directory Errors (DIR001-DIR099)
//
//	DIR001 - Watched directory is missing or not a directory       (KindDirectory)
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Status API request has an invalid query parameter     ("invalid query parameter")
//	REQ002 - No processed-file record for the requested name       ("no record for file")
//
// # Default Error (ERR000)
//
//	ERR000 - Unexpected error; check the log for the technical cause
//
// Patterns are matched case-insensitively with strings.Contains before the
// kind fallback, so a connection failure during a load reports DB001 rather
// than the generic LOAD002. The first matching pattern wins.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to the destination database", "Check DB_HOST and DB_PORT and that PostgreSQL is running", "DB001"}},
	{"no such host", UserMessage{"Unable to connect to the destination database", "Check DB_HOST", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "The file will be retried on its next change or rescan", "DB002"}},
	{"broken pipe", UserMessage{"Database connection was interrupted", "The file will be retried on its next change or rescan", "DB002"}},
	{"password authentication failed", UserMessage{"Authentication failed", "Check DB_USER and DB_PASSWORD", "DB003"}},
	{"context deadline exceeded", UserMessage{"Operation timed out", "Raise LOAD_TIMEOUT or split the file", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Raise LOAD_TIMEOUT or split the file", "DB004"}},
	{"permission denied for", UserMessage{"Permission denied on the destination schema", "Grant CREATE on the target schema to DB_USER", "DB005"}},

	// Files
	{"no such file", UserMessage{"File disappeared before it could be read", "No action needed if the file was moved on purpose", "FILE001"}},
	{"encoding error", UserMessage{"File is neither valid UTF-8 nor Latin-1", "Re-save the file as UTF-8", "FILE003"}},
	{"empty file", UserMessage{"File has no header row", "Add a header row naming the columns", "FILE005"}},

	// Status API
	{"invalid query parameter", UserMessage{"Invalid request parameter", "Check the query string of the request", "REQ001"}},
	{"no record for file", UserMessage{"File has not been processed", "Check the file name; only successful loads are recorded", "REQ002"}},

	// Load
	{"invalid table name", UserMessage{"File name does not produce a usable table name", "Rename the file to contain letters or digits", "LOAD003"}},
}

var kindMessages = map[Kind]UserMessage{
	KindParse:          {"File could not be parsed as a table", "Check the delimiter and that rows have consistent columns", "FILE002"},
	KindDecode:         {"File is neither valid UTF-8 nor Latin-1", "Re-save the file as UTF-8", "FILE003"},
	KindUnsupported:    {"File format is not supported", "Convert the file to CSV, TXT, XLS, XLSX or JSON", "FILE004"},
	KindSchemaConflict: {"Header does not form a valid table schema", "Make every column name unique, ignoring case", "LOAD001"},
	KindLoad:           {"Bulk load failed and was rolled back", "Check the log entry for the database error", "LOAD002"},
	KindDirectory:      {"Watched directory is missing or not a directory", "Create the directory or fix WATCH_DIR", "DIR001"},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log for the technical cause",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message. Known text
// patterns win, then the error's Kind, then the ERR000 fallback.
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

	if msg, ok := kindMessages[KindOf(err)]; ok {
		return msg
	}
	return defaultMessage
}

// FormatUserError renders MapError as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsKnown reports whether err maps to a specific code rather than ERR000.
func IsKnown(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
