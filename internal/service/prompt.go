package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// Section is the content gathered for one category (and selector) of a briefing.
type Section struct {
	Type      model.ContentType
	Selector  string
	Freshness model.Freshness
	Items     []model.ContentItem
	Age       time.Duration
}

// Caveat returns the spoken staleness annotation, empty for fresh content.
func (s Section) Caveat() string {
	if s.Freshness != model.FreshnessStale {
		return ""
	}
	return StaleCaveat(s.Age)
}

// StaleCaveat renders the annotation attached to content older than its TTL.
func StaleCaveat(age time.Duration) string {
	hours := int(math.Round(age.Hours()))
	if hours < 1 {
		hours = 1
	}
	if hours == 1 {
		return "(this information is about 1 hour old)"
	}
	return fmt.Sprintf("(this information is about %d hours old)", hours)
}

var sectionTitles = map[model.ContentType]string{
	model.ContentNews:     "Top news",
	model.ContentWeather:  "Weather",
	model.ContentStocks:   "Markets",
	model.ContentSports:   "Sports",
	model.ContentCalendar: "Today's calendar",
	model.ContentQuotes:   "Quote of the day",
}

func buildSystemPrompt(prefs model.Preferences) string {
	locale := prefs.Locale
	if locale == "" {
		locale = "en-US"
	}
	return fmt.Sprintf(`You are the host of a short, warm personal morning radio briefing.
Write a script that will be read aloud by a text-to-speech voice, in the language of locale %s.
Use plain spoken sentences only: no headings, lists, markdown, emojis, URLs or stage directions.
When a content block is marked with an age annotation, say so naturally when you cover it.
Never invent facts that are not in the provided content.`, locale)
}

func buildUserPrompt(job *model.Job, sections []Section, wordBudget int) string {
	var b strings.Builder
	low := wordBudget * 9 / 10
	high := wordBudget * 11 / 10

	fmt.Fprintf(&b, "Write a morning briefing of %d to %d words (target %d).\n", low, high, wordBudget)
	if job.Preferences.DisplayName != "" {
		fmt.Fprintf(&b, "Listener name: %s\n", job.Preferences.DisplayName)
	}
	fmt.Fprintf(&b, "Date: %s (%s)\n", job.LocalDate, job.Preferences.Timezone)
	if job.Preferences.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", job.Preferences.Region)
	}

	if len(sections) == 0 {
		b.WriteString("\nNo content is available today. Greet the listener, offer a calm thought for the day and sign off.\n")
		return b.String()
	}

	b.WriteString("\nCover the following content in this order:\n")
	for _, s := range sections {
		title := sectionTitles[s.Type]
		if s.Selector != "" && s.Type != model.ContentNews {
			title += " - " + s.Selector
		}
		b.WriteString("\n## " + title)
		if caveat := s.Caveat(); caveat != "" {
			b.WriteString(" " + caveat)
		}
		b.WriteString("\n")
		for _, it := range s.Items {
			b.WriteString("- " + describeItem(s.Type, it) + "\n")
		}
	}
	b.WriteString("\nOpen with a greeting and close with a short sign-off.\n")
	return b.String()
}

// describeItem renders one content item as a single spoken-style sentence.
func describeItem(t model.ContentType, it model.ContentItem) string {
	switch t {
	case model.ContentStocks:
		if it.Value != 0 {
			direction := "up"
			change := it.Change
			if change < 0 {
				direction = "down"
				change = -change
			}
			return fmt.Sprintf("%s is at %.2f%s, %s %.2f percent.", it.Title, it.Value, unitSuffix(it.Unit), direction, change)
		}
	case model.ContentWeather:
		if it.Value != 0 || it.Unit != "" {
			text := fmt.Sprintf("%s, around %.0f%s.", it.Title, it.Value, unitSuffix(it.Unit))
			if it.Summary != "" {
				text += " " + sentence(it.Summary)
			}
			return text
		}
	}
	text := sentence(it.Title)
	if it.Summary != "" {
		text += " " + sentence(it.Summary)
	}
	return text
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
