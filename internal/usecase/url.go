package usecase

import "regexp"

var supportedURLPattern = regexp.MustCompile(`^(https?://)?(www\.youtube\.com|m\.youtube\.com|youtube\.com|youtu\.be)/.+$`)

// IsSupportedURL reports whether text is a link the relay can fetch. The
// caller trims the text; host matching is case-sensitive.
func IsSupportedURL(text string) bool {
	return supportedURLPattern.MatchString(text)
}
