package usecase

// Replies sent to senders.
const (
	msgFormatPrompt  = `Please select the format in which you want to download youtube video: "mp3" or "mp4".`
	msgInvalidURL    = "Invalid YouTube URL. Please send a valid URL."
	msgInvalidFormat = `Invalid input. Please select either "mp3" or "mp4".`
	msgReceived      = "Link received successfully! Please wait while we are working on the link.\n Please note the waiting time depends on the length the video. :)"
	msgFailure       = "An error occurred while processing your request."
)
