package publish

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/progeodata/leadflow/internal/model"
)

// maxDescriptionRunes is the meta description length search engines display.
const maxDescriptionRunes = 160

type phrases struct {
	lang     language.Tag
	in       string
	localBiz string
	rated    string
	closing  string
}

var phraseSets = map[string]phrases{
	"en": {
		lang:     language.English,
		in:       "in",
		localBiz: "local business",
		rated:    "Rated %s/5 from %d reviews.",
		closing:  "Find contact details and hours on %s.",
	},
	"es": {
		lang:     language.Spanish,
		in:       "en",
		localBiz: "negocio local",
		rated:    "Calificación %s/5 con %d reseñas.",
		closing:  "Encuentra contacto y horario en %s.",
	},
}

func phrasesFor(lang string) phrases {
	if p, ok := phraseSets[strings.ToLower(lang)]; ok {
		return p
	}
	return phraseSets["en"]
}

// humanize turns a category tag such as "car_repair" into "Car Repair".
func humanize(tag string) string {
	tag = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(tag))
	if tag == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(strings.Fields(tag), " "))
}

// locality returns "City, ST", or whichever part is present.
func locality(rec *model.RawBusinessRecord) string {
	var parts []string
	for _, p := range []string{rec.City, rec.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// SEOTitle builds "Name - Category in City | Brand", dropping absent parts.
func SEOTitle(rec *model.RawBusinessRecord, category, brand, lang string) string {
	p := phrasesFor(lang)
	title := strings.TrimSpace(rec.Name)
	city := strings.TrimSpace(rec.City)
	if city != "" {
		// Casers are stateful; one per call.
		city = cases.Title(p.lang).String(city)
	}
	switch {
	case category != "" && city != "":
		title += " - " + category + " " + p.in + " " + city
	case category != "":
		title += " - " + category
	case city != "":
		title += " - " + city
	}
	if brand != "" {
		title += " | " + brand
	}
	return title
}

// MetaDescription describes the business and, when it has reviews, adds a
// rating phrase. The result is cut on a word boundary to fit search
// snippets.
func MetaDescription(rec *model.RawBusinessRecord, category, brand, lang string) string {
	p := phrasesFor(lang)
	if category == "" {
		category = p.localBiz
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(rec.Name))
	b.WriteString(" - ")
	b.WriteString(category)
	if loc := locality(rec); loc != "" {
		b.WriteString(" " + p.in + " " + loc)
	}
	b.WriteString(".")
	if rating, ok := ratingText(rec); ok {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf(p.rated, rating, *rec.ReviewCount))
	}
	if brand != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf(p.closing, brand))
	}
	return truncateWords(b.String(), maxDescriptionRunes)
}

// Keywords combines category terms with location terms, lowercased and
// deduplicated in first-seen order.
func Keywords(rec *model.RawBusinessRecord, category string) []string {
	var terms []string
	if category != "" {
		terms = append(terms, category)
	}
	for i, c := range rec.Categories {
		if i == 3 {
			break
		}
		if h := humanize(c); h != "" {
			terms = append(terms, h)
		}
	}

	city := strings.TrimSpace(rec.City)
	state := strings.TrimSpace(rec.State)
	var places []string
	if city != "" {
		places = append(places, city)
		if state != "" {
			places = append(places, city+" "+state)
		}
	}
	if state != "" {
		places = append(places, state)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(k string) {
		k = strings.ToLower(strings.Join(strings.Fields(k), " "))
		if k == "" {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for _, t := range terms {
		add(t)
		for _, pl := range places {
			add(t + " " + pl)
		}
	}
	if len(terms) == 0 {
		for _, pl := range places {
			add(pl)
		}
	}
	return out
}

// ratingText reports the rating formatted to one decimal when the record has
// both a rating and at least one review.
func ratingText(rec *model.RawBusinessRecord) (string, bool) {
	if rec.Rating == nil || rec.ReviewCount == nil || *rec.ReviewCount <= 0 {
		return "", false
	}
	return strconv.FormatFloat(*rec.Rating, 'f', 1, 64), true
}

func truncateWords(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit-3])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.-") + "..."
}
