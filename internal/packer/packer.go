package packer

import (
	"fmt"
	"strings"
)

// DefaultCap is the destination wall's hard attachment limit per post.
const DefaultCap = 10

// Strategy selects how an over-cap attachment list is handled. Any value
// other than StrategySplitPosts falls back to truncation.
type Strategy string

const (
	StrategySplitPosts Strategy = "split_posts"
	StrategyTruncate   Strategy = "truncate"
)

// Known reports whether s is one of the recognized strategy values.
func (s Strategy) Known() bool {
	return s == StrategySplitPosts || s == StrategyTruncate
}

// Call is one publish call to issue, in order.
type Call struct {
	Message     string
	Attachments []string
}

// Input describes one logical post to pack under the attachment cap.
type Input struct {
	Text        string
	Attachments []string // already uploaded, order preserved
	Notes       []string // advisory notes, e.g. oversize skips
	Permalink   string   // canonical link to the full original content
	Strategy    Strategy
	Cap         int // zero means DefaultCap
}

// Pack turns the input into one or more publish calls. Attachments are never
// reordered and the text body is never dropped.
func Pack(in Input) []Call {
	limit := in.Cap
	if limit <= 0 {
		limit = DefaultCap
	}

	if len(in.Attachments) <= limit {
		return []Call{{
			Message:     buildMessage(in.Text, in.Notes),
			Attachments: in.Attachments,
		}}
	}

	if in.Strategy == StrategySplitPosts {
		return splitCalls(in, limit)
	}
	return truncateCall(in, limit)
}

// splitCalls partitions the attachments into consecutive chunks of at most
// cap, prefixing each message with an "i/total" marker. The original text and
// notes go only on the first chunk.
func splitCalls(in Input, limit int) []Call {
	total := (len(in.Attachments) + limit - 1) / limit
	calls := make([]Call, 0, total)

	for i := 0; i < total; i++ {
		start := i * limit
		end := start + limit
		if end > len(in.Attachments) {
			end = len(in.Attachments)
		}

		message := fmt.Sprintf("%d/%d ", i+1, total) + in.Text
		if i == 0 {
			message = buildMessage(message, in.Notes)
		}
		calls = append(calls, Call{
			Message:     message,
			Attachments: in.Attachments[start:end],
		})
	}
	return calls
}

// truncateCall keeps only the first cap attachments and appends a note with
// the permalink to the full original.
func truncateCall(in Input, limit int) []Call {
	notes := make([]string, 0, len(in.Notes)+2)
	notes = append(notes, in.Notes...)
	notes = append(notes,
		fmt.Sprintf("Attachments were truncated due to the destination limit (%d).", limit),
		fmt.Sprintf("Full post: %s", in.Permalink),
	)
	return []Call{{
		Message:     buildMessage(in.Text, notes),
		Attachments: in.Attachments[:limit],
	}}
}

func buildMessage(base string, notes []string) string {
	if len(notes) == 0 {
		return base
	}
	noteText := strings.Join(notes, "\n")
	if base == "" {
		return noteText
	}
	return base + "\n\n" + noteText
}
