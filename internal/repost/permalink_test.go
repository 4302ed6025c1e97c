package repost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPermalinkPublicChannel(t *testing.T) {
	payload := []byte(`{"channel_post":{"chat":{"id":-1001234567890,"username":"mychannel"}}}`)
	link := BuildPermalink(payload, -1001234567890, 42)
	assert.Equal(t, "https://t.me/mychannel/42", link)
}

func TestBuildPermalinkPrivateChannel(t *testing.T) {
	link := BuildPermalink(nil, -1001234567890, 42)
	assert.Equal(t, "https://t.me/c/1234567890/42", link)
}

func TestBuildPermalinkMalformedPayload(t *testing.T) {
	link := BuildPermalink([]byte("{not json"), -100777, 7)
	assert.Equal(t, "https://t.me/c/777/7", link)
}
