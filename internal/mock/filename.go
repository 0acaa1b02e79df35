package mock

import "strings"

const (
	// MaxFileNameLength is the longest file name written before falling back
	// to the scenario+id form.
	MaxFileNameLength = 256

	fileExtension = ".json"
)

// FileName builds "<sanitized-path>_[<scenario>_]<id>.json", dropping the path
// prefix when the result would be longer than MaxFileNameLength.
func FileName(path, scenario, id string) string {
	tail := id + fileExtension
	if scenario != "" {
		tail = SanitizeSegment(scenario) + "_" + tail
	}

	prefix := SanitizePath(path)
	if prefix == "" {
		return tail
	}
	name := prefix + "_" + tail
	if len(name) > MaxFileNameLength {
		return tail
	}
	return name
}

// SanitizePath flattens a URL path into a single file-name-safe token.
func SanitizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	return SanitizeSegment(strings.ReplaceAll(trimmed, "/", "+"))
}

var unsafeFileChars = strings.NewReplacer(
	"/", "+",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "_",
)

// SanitizeSegment replaces characters that are not allowed in file names.
func SanitizeSegment(s string) string {
	return unsafeFileChars.Replace(s)
}

// IsMockFile reports whether name looks like a mock file.
func IsMockFile(name string) bool {
	return strings.HasSuffix(name, fileExtension) && !strings.HasPrefix(name, ".")
}
