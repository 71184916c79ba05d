// Package summary renders and publishes the per-category review lists posted in each
// category channel.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dyluth/warden/internal/platform"
)

const (
	// MaxSectionLength bounds one bucket section before it is split into parts.
	MaxSectionLength = 2000
	// MaxEmbedLength bounds one embed description.
	MaxEmbedLength = 4000

	NoGuildSection        = "No Longer In Guild"
	NeedsMigrationSection = "Needs Migration"

	embedColor = 0x5865F2
)

// Entry is one open review in a category summary.
type Entry struct {
	UserID         string
	ThreadID       string
	Name           string
	Bucket         string
	BucketIndex    int
	InGuild        bool
	NeedsMigration bool
}

// Section is a titled group of entries.
type Section struct {
	Name    string
	Entries []Entry
}

// Group orders entries into bucket sections (in bucket order, names sorted
// case-insensitively), then the no-longer-in-guild and needs-migration sections.
func Group(entries []Entry) []Section {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BucketIndex != sorted[j].BucketIndex {
			return sorted[i].BucketIndex < sorted[j].BucketIndex
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	var buckets []Section
	var noGuild, migrate []Entry
	for _, e := range sorted {
		switch {
		case !e.InGuild:
			noGuild = append(noGuild, e)
		case e.NeedsMigration:
			migrate = append(migrate, e)
		default:
			if n := len(buckets); n == 0 || buckets[n-1].Name != e.Bucket {
				buckets = append(buckets, Section{Name: e.Bucket})
			}
			buckets[len(buckets)-1].Entries = append(buckets[len(buckets)-1].Entries, e)
		}
	}
	if len(noGuild) > 0 {
		buckets = append(buckets, Section{Name: NoGuildSection, Entries: noGuild})
	}
	if len(migrate) > 0 {
		buckets = append(buckets, Section{Name: NeedsMigrationSection, Entries: migrate})
	}
	return buckets
}

func line(guildID string, e Entry) string {
	return fmt.Sprintf("• [%s](https://discord.com/channels/%s/%s)", e.Name, guildID, e.ThreadID)
}

// Split breaks a section into numbered parts whose rendered text fits in max.
func Split(guildID string, s Section, max int) []Section {
	header := len("**" + s.Name + "**\n")
	var parts [][]Entry
	var current []Entry
	size := 0
	for _, e := range s.Entries {
		n := len(line(guildID, e)) + 1
		if size+n+header > max && len(current) > 0 {
			parts = append(parts, current)
			current, size = nil, 0
		}
		current = append(current, e)
		size += n
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}

	out := make([]Section, len(parts))
	for i, p := range parts {
		name := s.Name
		if len(parts) > 1 {
			name = fmt.Sprintf("%s (%d/%d)", s.Name, i+1, len(parts))
		}
		out[i] = Section{Name: name, Entries: p}
	}
	return out
}

// Render builds the summary embeds for one category.
func Render(guildID, category string, entries []Entry, now time.Time) []platform.Embed {
	title := capitalize(category) + " Review Threads"
	updated := now.UTC().Format("2006-01-02 15:04 MST")

	var sections []Section
	for _, s := range Group(entries) {
		sections = append(sections, Split(guildID, s, MaxSectionLength)...)
	}
	if len(sections) == 0 {
		return []platform.Embed{{
			Title:       title,
			Description: "No active review threads",
			Color:       embedColor,
			Footer:      fmt.Sprintf("Review List • %s • Last updated: %s", category, updated),
		}}
	}

	var bodies []string
	var b strings.Builder
	for _, s := range sections {
		lines := make([]string, len(s.Entries))
		for i, e := range s.Entries {
			lines[i] = line(guildID, e)
		}
		text := "**" + s.Name + "**\n" + strings.Join(lines, "\n") + "\n\n"
		if b.Len() > 0 && b.Len()+len(text) > MaxEmbedLength {
			bodies = append(bodies, b.String())
			b.Reset()
		}
		b.WriteString(text)
	}
	if b.Len() > 0 {
		bodies = append(bodies, b.String())
	}

	embeds := make([]platform.Embed, len(bodies))
	for i, body := range bodies {
		e := platform.Embed{
			Title:       title,
			Description: strings.TrimSpace(body),
			Color:       embedColor,
			Footer:      fmt.Sprintf("Review List • %s • Last updated: %s", category, updated),
		}
		if len(bodies) > 1 {
			e.Title = fmt.Sprintf("%s (%d/%d)", title, i+1, len(bodies))
			e.Footer = fmt.Sprintf("Review List • %s • Part %d/%d • Last updated: %s", category, i+1, len(bodies), updated)
		}
		embeds[i] = e
	}
	return embeds
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
