package instagram

import (
	"fmt"
	"net/url"
)

const (
	// BaseURL is the Instagram Graph API host
	BaseURL = "https://graph.instagram.com"

	// APIVersion is the Graph API version the client speaks
	APIVersion = "v21.0"
)

// GetMessagesURL returns the send endpoint for an account
func GetMessagesURL(baseURL, accountID string) string {
	return fmt.Sprintf("%s/%s/%s/messages", baseURL, APIVersion, url.PathEscape(accountID))
}

// GetConversationsURL returns the conversation listing endpoint for an
// account, filtered to userID when it is not empty
func GetConversationsURL(baseURL, accountID, userID string) string {
	params := url.Values{}
	params.Set("platform", "instagram")
	if userID != "" {
		params.Set("user_id", userID)
	}
	return fmt.Sprintf("%s/%s/%s/conversations?%s", baseURL, APIVersion, url.PathEscape(accountID), params.Encode())
}
