package warden

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/warden/internal/platform"
)

// maxReportChunk keeps report messages under the platform's message limit.
const maxReportChunk = 1900

// MissingReviews lists guild-role holders, excluding bots and exempt members, who have no
// open review. The result is sorted by user id.
func (e *Engine) MissingReviews(ctx context.Context) ([]string, error) {
	members, err := e.platform.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}
	var missing []string
	for _, m := range members {
		if m.Bot || !e.classifier.HasGuildRole(m.Roles) || e.classifier.IsExempt(m.Roles) {
			continue
		}
		if rec, ok := e.registry.Get(m.ID); ok && rec.Open() {
			continue
		}
		missing = append(missing, m.ID)
	}
	sort.Strings(missing)
	return missing, nil
}

func (e *Engine) postMissingReport(ctx context.Context, channelID string, missing []string, ping bool) error {
	if len(missing) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Members without an active review (%d):**\n", len(missing))
	for _, id := range missing {
		b.WriteString("<@" + id + ">\n")
	}
	for _, chunk := range chunkLines(b.String(), maxReportChunk) {
		if _, err := e.platform.Send(ctx, channelID, platform.OutgoingMessage{Content: chunk, SuppressMentions: !ping}); err != nil {
			return fmt.Errorf("failed to post report: %w", err)
		}
	}
	return nil
}

// chunkLines splits s at line boundaries into pieces of at most max bytes. A single line
// longer than max is cut.
func chunkLines(s string, max int) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		for len(line) > max {
			flush()
			cut := max
			for cut > 0 && line[cut]&0xC0 == 0x80 {
				cut--
			}
			if cut == 0 {
				cut = max
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > max {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return out
}
