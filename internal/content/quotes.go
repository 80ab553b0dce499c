package content

import (
	"hash/fnv"

	"github.com/morningbrief/api/internal/model"
)

// Quote is a short attributed line used to close a briefing.
type Quote struct {
	Text   string
	Author string
}

var quoteCatalog = map[model.QuoteStyle][]Quote{
	model.QuoteStyleInspirational: {
		{"The secret of getting ahead is getting started.", "Mark Twain"},
		{"It always seems impossible until it's done.", "Nelson Mandela"},
		{"Act as if what you do makes a difference. It does.", "William James"},
		{"Well done is better than well said.", "Benjamin Franklin"},
		{"You are never too old to set another goal or to dream a new dream.", "C. S. Lewis"},
		{"Start where you are. Use what you have. Do what you can.", "Arthur Ashe"},
	},
	model.QuoteStyleStoic: {
		{"We suffer more often in imagination than in reality.", "Seneca"},
		{"You have power over your mind, not outside events. Realize this, and you will find strength.", "Marcus Aurelius"},
		{"No man is free who is not master of himself.", "Epictetus"},
		{"Waste no more time arguing what a good man should be. Be one.", "Marcus Aurelius"},
		{"Luck is what happens when preparation meets opportunity.", "Seneca"},
		{"First say to yourself what you would be; and then do what you have to do.", "Epictetus"},
	},
	model.QuoteStyleHumor: {
		{"I am not a morning person. I am a coffee person.", "Anonymous"},
		{"The early bird gets the worm, but the second mouse gets the cheese.", "Steven Wright"},
		{"I love deadlines. I like the whooshing sound they make as they fly by.", "Douglas Adams"},
		{"Behind every successful person is a substantial amount of coffee.", "Stephanie Piro"},
		{"Never put off till tomorrow what may be done day after tomorrow just as well.", "Mark Twain"},
	},
}

// QuoteFor picks the day's quote for a style. The same style and date always
// yield the same quote; unknown styles fall back to inspirational.
func QuoteFor(style model.QuoteStyle, localDate string) Quote {
	quotes, ok := quoteCatalog[style]
	if !ok || len(quotes) == 0 {
		quotes = quoteCatalog[model.QuoteStyleInspirational]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(style) + "|" + localDate))
	return quotes[int(h.Sum32()%uint32(len(quotes)))]
}

// CalendarItems turns the user's calendar snippets into content items.
func CalendarItems(snippets []string) []model.ContentItem {
	items := make([]model.ContentItem, 0, len(snippets))
	for _, s := range snippets {
		if s == "" {
			continue
		}
		items = append(items, model.ContentItem{Title: s, Source: "calendar"})
	}
	return items
}
