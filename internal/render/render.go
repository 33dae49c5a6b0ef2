package render

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
)

// Formats understood by New.
const (
	FormatHTML   = "html"   // Telegram parse_mode=HTML
	FormatMrkdwn = "mrkdwn" // Slack
)

const barWidth = 10

type markup struct {
	escape func(string) string
	bold   func(string) string
	italic func(string) string
	link   func(text, url string) string
}

var entityEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var markups = map[string]markup{
	FormatHTML: {
		escape: entityEscaper.Replace,
		bold:   func(s string) string { return "<b>" + s + "</b>" },
		italic: func(s string) string { return "<i>" + s + "</i>" },
		link: func(text, url string) string {
			return `<a href="` + strings.ReplaceAll(entityEscaper.Replace(url), `"`, "&quot;") + `">` + text + "</a>"
		},
	},
	FormatMrkdwn: {
		escape: entityEscaper.Replace,
		bold:   func(s string) string { return "*" + s + "*" },
		italic: func(s string) string { return "_" + s + "_" },
		link:   func(text, url string) string { return "<" + url + "|" + text + ">" },
	},
}

// Renderer is a pure, deterministic roadmap formatter.
type Renderer struct {
	format    string
	mk        markup
	profile   *Profile
	loc       *time.Location
	maxLength int
}

// New creates a renderer. maxLength <= 0 disables the length budget and a
// nil profile selects the default one.
func New(format string, profile *Profile, maxLength int) (*Renderer, error) {
	mk, ok := markups[format]
	if !ok {
		return nil, fmt.Errorf("unknown render format %q", format)
	}
	if profile == nil {
		profile = DefaultProfile()
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", profile.Timezone, err)
	}
	return &Renderer{format: format, mk: mk, profile: profile, loc: loc, maxLength: maxLength}, nil
}

// Format returns the markup dialect this renderer produces.
func (r *Renderer) Format() string { return r.format }

// Render formats a project and its tasks. Output longer than the budget is
// shrunk by dropping task descriptions, then trailing rows, and is cut at
// the budget only if the remaining header alone does not fit.
func (r *Renderer) Render(p *roadmap.Project, tasks []*roadmap.Task) string {
	ordered := make([]*roadmap.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	text := r.compose(p, ordered, len(ordered), true)
	if r.fits(text) {
		return text
	}
	text = r.compose(p, ordered, len(ordered), false)
	if r.fits(text) {
		return text
	}

	// Output grows with the number of rows shown; find the most that fit.
	n := sort.Search(len(ordered)+1, func(k int) bool {
		return !r.fits(r.compose(p, ordered, k, false))
	})
	if n > 0 {
		return r.compose(p, ordered, n-1, false)
	}
	return r.truncate(r.compose(p, ordered, 0, false))
}

func (r *Renderer) fits(s string) bool {
	return r.maxLength <= 0 || r.length(s) <= r.maxLength
}

// length measures s the way the target counts message size. Telegram counts
// UTF-16 code units; markup is included, which only overestimates.
func (r *Renderer) length(s string) int {
	n := 0
	for _, c := range s {
		n += r.width(c)
	}
	return n
}

func (r *Renderer) width(c rune) int {
	if r.format == FormatHTML {
		if n := utf16.RuneLen(c); n > 1 {
			return n
		}
	}
	return 1
}

func (r *Renderer) compose(p *roadmap.Project, tasks []*roadmap.Task, shown int, descriptions bool) string {
	pr, mk := r.profile, r.mk
	stats := roadmap.StatsOf(tasks)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", pr.HeaderIcon, mk.bold(mk.escape(pr.HeaderLabel+": "+p.Name)))
	if p.Description != "" {
		fmt.Fprintf(&b, "%s %s\n\n", pr.DescriptionIcon, mk.escape(p.Description))
	}

	filled := stats.Progress / 10
	fmt.Fprintf(&b, "%s\n", mk.bold(mk.escape(fmt.Sprintf("%s: %d%%", pr.ProgressLabel, stats.Progress))))
	fmt.Fprintf(&b, "%s%s %d/%d\n\n",
		strings.Repeat("▓", filled), strings.Repeat("░", barWidth-filled), stats.Completed, stats.Total)

	if stats.Total == 0 {
		fmt.Fprintf(&b, "%s\n\n", mk.italic(mk.escape(pr.EmptyState)))
	} else {
		fmt.Fprintf(&b, "%s\n", mk.bold(mk.escape(fmt.Sprintf("%s (%d):", pr.TasksLabel, stats.Total))))
		for _, t := range tasks[:shown] {
			style := pr.Style(string(t.Status))
			if pr.NumberRows {
				fmt.Fprintf(&b, "%d. ", t.Position)
			}
			fmt.Fprintf(&b, "%s %s\n", style.Emoji, mk.escape(t.Title))
			if descriptions && t.Description != "" {
				fmt.Fprintf(&b, "    - %s\n", mk.escape(t.Description))
			}
		}
		if hidden := stats.Total - shown; hidden > 0 {
			fmt.Fprintf(&b, "%s\n", mk.italic(mk.escape(fmt.Sprintf(pr.MoreLabel, hidden))))
		}

		fmt.Fprintf(&b, "\n%s\n", mk.bold(mk.escape(pr.StatsLabel+":")))
		for _, line := range []struct {
			status string
			n      int
		}{
			{"completed", stats.Completed},
			{"in_progress", stats.InProgress},
			{"planned", stats.Planned},
			{"cancelled", stats.Cancelled},
		} {
			if line.n > 0 {
				style := pr.Style(line.status)
				fmt.Fprintf(&b, "%s %s: %d\n", style.Emoji, mk.escape(style.Label), line.n)
			}
		}
		b.WriteString("\n")
	}

	if ts := lastUpdated(p, tasks); ts > 0 {
		fmt.Fprintf(&b, "%s: %s\n", mk.escape(pr.UpdatedLabel), time.UnixMilli(ts).In(r.loc).Format(pr.TimeFormat))
	}
	switch {
	case pr.Footer != "" && pr.FooterURL != "":
		b.WriteString(mk.link(mk.escape(pr.Footer), pr.FooterURL))
	case pr.Footer != "":
		b.WriteString(mk.escape(pr.Footer))
	}
	return strings.TrimRight(b.String(), "\n")
}

// lastUpdated is the newest modification time across the project and its
// tasks, so identical state always renders identically.
func lastUpdated(p *roadmap.Project, tasks []*roadmap.Task) int64 {
	ts := p.UpdatedAt
	for _, t := range tasks {
		if t.UpdatedAt > ts {
			ts = t.UpdatedAt
		}
	}
	return ts
}

// truncate cuts s to the budget and appends an ellipsis. HTML output loses
// its tags first so the cut can never leave one open. The cut never splits
// an escaped entity.
func (r *Renderer) truncate(s string) string {
	if r.fits(s) {
		return s
	}
	if r.format == FormatHTML {
		s = stripTags(s)
		if r.fits(s) {
			return s
		}
	}

	const ellipsis = "…"
	budget := r.maxLength - r.length(ellipsis)
	if budget < 0 {
		budget = 0
	}
	end, used, entity := 0, 0, -1
	for i, c := range s {
		w := r.width(c)
		if used+w > budget {
			break
		}
		used += w
		end = i + utf8.RuneLen(c)
		switch c {
		case '&':
			entity = i
		case ';':
			entity = -1
		}
	}
	if entity >= 0 {
		end = entity
	}
	if r.maxLength < r.length(ellipsis) {
		return s[:end]
	}
	return s[:end] + ellipsis
}

// stripTags removes markup tags. All user text is escaped, so every '<' opens
// a tag.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, c := range s {
		switch {
		case c == '<':
			inTag = true
		case c == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(c)
		}
	}
	return b.String()
}
