package domain

import "time"

// InboundMessage is one message event delivered by the chat provider.
type InboundMessage struct {
	From       string
	Body       string
	MessageSID string
}

// Job is one pipeline run for a completed conversation.
type Job struct {
	ID          string    `json:"id"`
	Sender      string    `json:"sender"`
	URL         string    `json:"url"`
	Format      Format    `json:"format"`
	RequestedAt time.Time `json:"requestedAt"`
}

// JobEventSource tags an asynchronous invocation payload that carries a Job.
const JobEventSource = "media-relay.job"

// JobEvent is the payload handed to a separate invocation that runs the pipeline.
type JobEvent struct {
	Source string `json:"source"`
	Job    Job    `json:"job"`
}

// MediaMetadata holds the fields of the source video the pipeline needs.
type MediaMetadata struct {
	ID       string
	Title    string
	Uploader string
	Duration float64
}

// Credentials are short-lived storage credentials issued by the broker.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
}
