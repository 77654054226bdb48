package ratelimit

import (
	"fmt"

	"igautomate/pkg/config"
	errs "igautomate/pkg/errors"
)

// APIType is a category of outbound Instagram call with its own quota
type APIType string

const (
	APIConversations      APIType = "conversations"
	APISendText           APIType = "send_text"
	APISendMedia          APIType = "send_media"
	APIPrivateRepliesLive APIType = "private_replies_live"
	APIPrivateRepliesPost APIType = "private_replies_post"
)

// APITypes lists every API type in a stable order
func APITypes() []APIType {
	return []APIType{
		APIConversations,
		APISendText,
		APISendMedia,
		APIPrivateRepliesLive,
		APIPrivateRepliesPost,
	}
}

// ParseAPIType validates an API type name
func ParseAPIType(s string) (APIType, error) {
	for _, api := range APITypes() {
		if string(api) == s {
			return api, nil
		}
	}
	return "", errs.New(errs.ErrorTypeNotFound, "parse api type", fmt.Errorf("unknown api %q", s))
}

// RequiresUser reports whether calls of this type always target an end
// user. Sends need a recipient; conversations and private replies may not
// have one.
func (a APIType) RequiresUser() bool {
	return a == APISendText || a == APISendMedia
}

func quotasFrom(cfg config.RateLimitConfig) map[APIType]config.Quota {
	return map[APIType]config.Quota{
		APIConversations:      cfg.Conversations,
		APISendText:           cfg.SendText,
		APISendMedia:          cfg.SendMedia,
		APIPrivateRepliesLive: cfg.PrivateRepliesLive,
		APIPrivateRepliesPost: cfg.PrivateRepliesPost,
	}
}
