package instagram

// MediaType is the kind of attachment in a media message
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

func (m MediaType) valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaAudio:
		return true
	}
	return false
}

// SendRequest is the body of a messages call
type SendRequest struct {
	Recipient Recipient `json:"recipient"`
	Message   Message   `json:"message"`
}

// Recipient addresses a user directly or, for private replies, a comment
type Recipient struct {
	ID        string `json:"id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
}

type Message struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Attachment struct {
	Type    MediaType         `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL string `json:"url"`
}

// SendResponse is returned for every accepted message
type SendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// ConversationsResponse is one page of conversations
type ConversationsResponse struct {
	Data   []Conversation `json:"data"`
	Paging *Paging        `json:"paging,omitempty"`
}

type Conversation struct {
	ID          string `json:"id"`
	UpdatedTime string `json:"updated_time,omitempty"`
}

type Paging struct {
	Cursors struct {
		Before string `json:"before,omitempty"`
		After  string `json:"after,omitempty"`
	} `json:"cursors"`
	Next string `json:"next,omitempty"`
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
}
