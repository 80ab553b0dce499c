package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/model"
)

// ScriptWriter produces briefing text from a system and user prompt
type ScriptWriter interface {
	Write(ctx context.Context, system, user string, maxTokens int) (string, client.Usage, error)
}

// ContentReader reads cached content with its freshness
type ContentReader interface {
	Get(ctx context.Context, contentType model.ContentType, selector string) (*model.ContentEntry, model.Freshness, error)
}

// ScriptConfig holds the length and timing knobs of script generation
type ScriptConfig struct {
	WordsPerMinute int
	MinWords       int
	MinScriptChars int
	Timeout        time.Duration
}

// ScriptResult is the output of one script generation
type ScriptResult struct {
	Script      string
	BilledChars int
	WordBudget  int
	Sections    []Section
	Padded      bool
}

// ScriptService turns a job's preferences and cached content into a spoken script
type ScriptService struct {
	writer  ScriptWriter
	content ContentReader
	cfg     ScriptConfig
	logger  *slog.Logger
	now     func() time.Time
}

// sectionOrder is the running order of a briefing
var sectionOrder = []model.ContentType{
	model.ContentWeather,
	model.ContentNews,
	model.ContentStocks,
	model.ContentSports,
	model.ContentCalendar,
	model.ContentQuotes,
}

// NewScriptService creates a script service. A nil or unconfigured writer
// makes the service compose scripts locally.
func NewScriptService(writer ScriptWriter, contentReader ContentReader, cfg ScriptConfig, logger *slog.Logger) *ScriptService {
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = 150
	}
	if cfg.MinScriptChars <= 0 {
		cfg.MinScriptChars = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if gc, ok := writer.(*client.GroqClient); ok && (gc == nil || !gc.IsConfigured()) {
		writer = nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptService{
		writer:  writer,
		content: contentReader,
		cfg:     cfg,
		logger:  logger.With("component", "script"),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for content ages.
func (s *ScriptService) WithClock(now func() time.Time) *ScriptService {
	s.now = now
	return s
}

// WordBudget returns the target word count for a spoken duration.
func (s *ScriptService) WordBudget(targetSeconds int) int {
	budget := targetSeconds * s.cfg.WordsPerMinute / 60
	if budget < s.cfg.MinWords {
		budget = s.cfg.MinWords
	}
	return budget
}

// Generate writes the script for a job
func (s *ScriptService) Generate(ctx context.Context, job *model.Job) (*ScriptResult, error) {
	sections := s.gather(ctx, job)
	budget := s.WordBudget(job.Preferences.TargetDurationSeconds)

	result := &ScriptResult{WordBudget: budget, Sections: sections}

	// Use the local composer if no writer is configured
	if s.writer == nil {
		result.Script = composeScript(job, sections, budget)
	} else {
		system := buildSystemPrompt(job.Preferences)
		user := buildUserPrompt(job, sections, budget)

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		text, usage, err := s.writer.Write(callCtx, system, user, budget*2)
		cancel()
		result.BilledChars = utf8.RuneCountInString(system) + utf8.RuneCountInString(user)
		if err != nil {
			return result, fmt.Errorf("script generation failed: %w", err)
		}
		result.BilledChars += utf8.RuneCountInString(text)
		result.Script = strings.TrimSpace(text)

		s.logger.Debug("script written",
			"job_id", job.ID,
			"words", len(strings.Fields(result.Script)),
			"budget", budget,
			"tokens", usage.TotalTokens,
		)
	}

	if utf8.RuneCountInString(result.Script) < s.cfg.MinScriptChars {
		result.Script = padScript(result.Script, job, sections, s.cfg.MinScriptChars)
		result.Padded = true
	}
	return result, nil
}

// gather reads every enabled category. Absent content is omitted; stale
// content is kept with its age so the script can carry a caveat.
func (s *ScriptService) gather(ctx context.Context, job *model.Job) []Section {
	prefs := job.Preferences
	now := s.now()
	var sections []Section

	for _, t := range sectionOrder {
		if !prefs.Categories.Enabled(t) {
			continue
		}
		switch t {
		case model.ContentCalendar:
			if items := content.CalendarItems(prefs.CalendarSnippets); len(items) > 0 {
				sections = append(sections, Section{Type: t, Freshness: model.FreshnessFresh, Items: items})
			}
		case model.ContentQuotes:
			q := content.QuoteFor(prefs.QuoteStyle, job.LocalDate)
			sections = append(sections, Section{
				Type:      t,
				Freshness: model.FreshnessFresh,
				Items:     []model.ContentItem{{Title: q.Text, Source: q.Author}},
			})
		default:
			if s.content == nil {
				continue
			}
			for _, selector := range prefs.Selectors(t) {
				entry, freshness, err := s.content.Get(ctx, t, selector)
				if err != nil {
					s.logger.Warn("content read failed, omitting",
						"job_id", job.ID, "type", t, "selector", selector, "error", err)
					continue
				}
				if freshness == model.FreshnessAbsent || entry == nil || len(entry.Items) == 0 {
					continue
				}
				sections = append(sections, Section{
					Type:      t,
					Selector:  selector,
					Freshness: freshness,
					Items:     entry.Items,
					Age:       entry.Age(now),
				})
			}
		}
	}
	return sections
}

// composeScript builds a script without a language model. Every section keeps
// its heading, any staleness caveat and its first item; further items are
// added round-robin while the word budget allows.
func composeScript(job *model.Job, sections []Section, budget int) string {
	opening := greeting(job)
	closing := signOff(job)
	words := len(strings.Fields(opening)) + len(strings.Fields(closing))

	shown := make([]int, len(sections))
	for i, sec := range sections {
		shown[i] = min(1, len(sec.Items))
		words += len(strings.Fields(sectionText(sec, shown[i])))
	}

	for added := true; added; {
		added = false
		for i, sec := range sections {
			if sec.Type == model.ContentQuotes || shown[i] >= len(sec.Items) {
				continue
			}
			n := len(strings.Fields(describeItem(sec.Type, sec.Items[shown[i]])))
			if words+n > budget {
				continue
			}
			shown[i]++
			words += n
			added = true
		}
	}

	parts := []string{opening}
	for i, sec := range sections {
		parts = append(parts, sectionText(sec, shown[i]))
	}
	parts = append(parts, closing)
	return strings.Join(parts, "\n\n")
}

func greeting(job *model.Job) string {
	day := job.LocalDate
	if t, err := time.Parse("2006-01-02", job.LocalDate); err == nil {
		day = t.Format("Monday, January 2")
	}
	if name := strings.TrimSpace(job.Preferences.DisplayName); name != "" {
		return fmt.Sprintf("Good morning, %s. It's %s, and here is your briefing.", name, day)
	}
	return fmt.Sprintf("Good morning. It's %s, and here is your briefing.", day)
}

func signOff(job *model.Job) string {
	if name := strings.TrimSpace(job.Preferences.DisplayName); name != "" {
		return fmt.Sprintf("That's everything for this morning, %s. Have a great day, and I'll see you tomorrow.", name)
	}
	return "That's everything for this morning. Have a great day, and I'll see you tomorrow."
}

// sectionText renders a section heading, its caveat and the first n items.
func sectionText(sec Section, n int) string {
	var b strings.Builder
	switch sec.Type {
	case model.ContentQuotes:
		if len(sec.Items) > 0 {
			it := sec.Items[0]
			return fmt.Sprintf("Here's a thought to carry with you today, from %s: %s", it.Source, sentence(it.Title))
		}
	case model.ContentCalendar:
		b.WriteString("Looking at your calendar today.")
	case model.ContentWeather:
		fmt.Fprintf(&b, "The weather for %s.", sec.Selector)
	case model.ContentNews:
		b.WriteString("Here are the top stories.")
	case model.ContentStocks:
		b.WriteString("A look at the markets.")
	case model.ContentSports:
		fmt.Fprintf(&b, "In %s.", strings.ToUpper(sec.Selector))
	}
	if caveat := sec.Caveat(); caveat != "" {
		b.WriteString(" " + caveat)
	}
	for _, it := range sec.Items[:min(n, len(sec.Items))] {
		b.WriteString(" " + describeItem(sec.Type, it))
	}
	return b.String()
}

// fillerLines pad a short script once every real block has been used.
var fillerLines = []string{
	"Take a slow breath before the day gets going, and decide on the one thing that matters most today.",
	"A glass of water and a few minutes of daylight are a simple way to wake up the body and the mind.",
	"If your schedule feels crowded, remember that a short pause between tasks often saves time later.",
	"Consider reaching out to someone you haven't spoken to in a while; a short message can make their day.",
	"Whatever the morning brings, pace yourself and leave a little room for something unexpected and good.",
}

// padScript appends greeting, content blocks, a quote and a sign-off, then
// generic lines, until the script reaches floor characters.
func padScript(script string, job *model.Job, sections []Section, floor int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(script))

	add := func(part string) bool {
		if utf8.RuneCountInString(b.String()) >= floor {
			return false
		}
		if strings.Contains(b.String(), part) {
			return true
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(part)
		return true
	}

	if b.Len() == 0 {
		add(greeting(job))
	}
	for _, sec := range sections {
		if sec.Type == model.ContentQuotes {
			continue
		}
		if strings.Contains(b.String(), sectionText(sec, min(1, len(sec.Items)))) {
			continue
		}
		add(sectionText(sec, len(sec.Items)))
	}
	q := content.QuoteFor(job.Preferences.QuoteStyle, job.LocalDate)
	add(sectionText(Section{Type: model.ContentQuotes, Items: []model.ContentItem{{Title: q.Text, Source: q.Author}}}, 1))

	closing := signOff(job)
	for i := 0; utf8.RuneCountInString(b.String())+len(closing)+2 < floor; i++ {
		b.WriteString("\n\n" + fillerLines[i%len(fillerLines)])
	}
	if !strings.Contains(b.String(), closing) {
		b.WriteString("\n\n" + closing)
	}
	return b.String()
}
