package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// WallPostResponse holds the result of a wall.post call.
type WallPostResponse struct {
	PostID int64           `json:"post_id"`
	Raw    json.RawMessage `json:"-"`
}

// PostToWall publishes a post on the group wall. groupID is the positive
// community id; the owner_id parameter is its negation as VK requires.
func (c *Client) PostToWall(ctx context.Context, groupID int64, message string, attachments []string) (*WallPostResponse, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(-groupID, 10))
	params.Set("from_group", "1")
	if message != "" {
		params.Set("message", message)
	}
	if len(attachments) > 0 {
		params.Set("attachments", strings.Join(attachments, ","))
	}

	raw, err := c.API(ctx, "wall.post", params, "")
	if err != nil {
		return nil, err
	}

	var resp WallPostResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding wall.post response: %w", err)
	}
	resp.Raw = raw
	return &resp, nil
}
