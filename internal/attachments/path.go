package attachments

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var unsafeRun = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeNamePart decomposes name (NFKD) and replaces every run of
// characters outside [A-Za-z0-9_.-] with an underscore. Leading and trailing
// underscores are dropped; an empty result becomes "file".
func SanitizeNamePart(name string) string {
	cleaned := unsafeRun.ReplaceAllString(norm.NFKD.String(name), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// BuildPath returns a unique object path for a file attached to billID:
// <billID>/<uuid>_<sanitized base>.<ext>.
func BuildPath(billID, fileName string) string {
	return buildPath(billID, fileName, uuid.NewString)
}

func buildPath(billID, fileName string, newID func() string) string {
	base, ext := fileName, ""
	if i := strings.LastIndex(fileName, "."); i >= 0 {
		base, ext = fileName[:i], fileName[i+1:]
	}

	safe := SanitizeNamePart(base)
	if ext = strings.Trim(unsafeRun.ReplaceAllString(ext, ""), "."); ext != "" {
		safe += "." + ext
	}
	return billID + "/" + newID() + "_" + safe
}
