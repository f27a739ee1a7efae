package domain

import "strings"

// Format is the output format a sender picks for a submitted URL.
type Format string

const (
	FormatAudio Format = "audio"
	FormatVideo Format = "video"
)

// formatTokens maps the words a sender may reply with to a Format.
var formatTokens = map[string]Format{
	"mp3": FormatAudio,
	"mp4": FormatVideo,
}

// ParseFormat matches a reply against the recognized format tokens,
// ignoring case and surrounding whitespace.
func ParseFormat(text string) (Format, bool) {
	f, ok := formatTokens[strings.ToLower(strings.TrimSpace(text))]
	return f, ok
}

// Token returns the word senders use to pick the format.
func (f Format) Token() string {
	switch f {
	case FormatAudio:
		return "mp3"
	case FormatVideo:
		return "mp4"
	default:
		return ""
	}
}

// Extension returns the file extension of the final artifact, including the dot.
func (f Format) Extension() string {
	if t := f.Token(); t != "" {
		return "." + t
	}
	return ""
}

// NeedsTranscode reports whether the downloaded container must be converted.
func (f Format) NeedsTranscode() bool {
	return f == FormatAudio
}

// ConversationState is the in-progress request of one sender.
type ConversationState struct {
	Sender         string
	SubmittedURL   string
	AwaitingFormat bool
	SelectedFormat Format
}

// NewPendingConversation returns the state stored right after a sender submits a valid URL.
func NewPendingConversation(sender, url string) ConversationState {
	return ConversationState{
		Sender:         sender,
		SubmittedURL:   url,
		AwaitingFormat: true,
	}
}

// SelectFormat records the chosen format and closes the format-selection step.
func (c *ConversationState) SelectFormat(f Format) {
	c.SelectedFormat = f
	c.AwaitingFormat = false
}
