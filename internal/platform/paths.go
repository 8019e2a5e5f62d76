package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ytget/yt-audio/internal/model"
)

// UntitledName replaces titles that sanitize to nothing
const UntitledName = "untitled"

// MaxUniqueAttempts bounds the search for a free disambiguated name
const MaxUniqueAttempts = 1000

// titleReplacer maps every filesystem-reserved character to an underscore
var titleReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"/", "_",
	"\\", "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// SanitizeTitle turns an arbitrary title into a safe file base name.
// Reserved and control characters become underscores. Double spaces are
// collapsed in a single pass, so runs longer than two spaces are only halved.
func SanitizeTitle(title string) string {
	name := strings.Map(replaceControl, titleReplacer.Replace(title))
	name = strings.ReplaceAll(name, "  ", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return UntitledName
	}
	return name
}

// DerivePath builds the output path for title in baseDir with the extension
// of format. Two items with the same sanitized title and format map to the
// same path; use CreateUnique to avoid overwriting.
func DerivePath(baseDir, title string, format model.OutputFormat) string {
	return filepath.Join(baseDir, SanitizeTitle(title)+format.Extension())
}

func replaceControl(r rune) rune {
	if unicode.IsControl(r) {
		return '_'
	}
	return r
}

// CreateUnique creates and opens path for writing, or the first free
// "name (n).ext" variant starting at n=2. The name is claimed with O_EXCL,
// so concurrent callers never receive the same file.
func CreateUnique(path string) (*os.File, string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	candidate := path
	for n := 2; n <= MaxUniqueAttempts+1; n++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
	return nil, "", fmt.Errorf("no free file name for %s after %d attempts", path, MaxUniqueAttempts)
}
