package repost

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BuildPermalink derives the public link to the source message. Public
// channels link by username; private ones use the t.me/c/ form with the
// internal -100 prefix stripped from the chat id.
func BuildPermalink(payload []byte, channelID, messageID int64) string {
	if username := channelUsername(payload); username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}

	internal := strconv.FormatInt(channelID, 10)
	internal = strings.TrimPrefix(internal, "-100")
	internal = strings.TrimPrefix(internal, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}

func channelUsername(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var update struct {
		ChannelPost struct {
			Chat struct {
				Username string `json:"username"`
			} `json:"chat"`
		} `json:"channel_post"`
	}
	if err := json.Unmarshal(payload, &update); err != nil {
		return ""
	}
	return update.ChannelPost.Chat.Username
}
