package embedding

import (
	"regexp"
	"strings"
)

// EmbeddingTextDelimiter separates the fields of the composed embedding text.
const EmbeddingTextDelimiter = " | "

var filenameSeparators = regexp.MustCompile(`[-_]+`)

// ComposeEmbeddingText builds the text fed to the embedding model for an asset.
// Fields are joined in a fixed order and absent or blank fields are skipped.
func ComposeEmbeddingText(filename string, altText, description, aiCaption *string, tagNames []string) string {
	parts := make([]string, 0, 5)
	for _, part := range []string{
		cleanFilename(filename),
		deref(altText),
		deref(description),
		deref(aiCaption),
		joinTagNames(tagNames),
	} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, EmbeddingTextDelimiter)
}

// cleanFilename drops the extension and turns "-" and "_" runs into spaces,
// so "My-Photo_01.JPG" becomes "my photo 01".
func cleanFilename(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		filename = filename[:i]
	}
	filename = filenameSeparators.ReplaceAllString(filename, " ")
	return strings.ToLower(strings.TrimSpace(filename))
}

func joinTagNames(names []string) string {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			kept = append(kept, name)
		}
	}
	return strings.Join(kept, " ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
