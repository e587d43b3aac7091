package publish

import (
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// GenericCategory is the template key used when no category matches.
const GenericCategory = "generic"

type categoryGroup struct {
	key   string
	label string
	words []string
}

// categoryGroups are checked in order. Words of four letters or more match
// as token prefixes; shorter words must match a whole token.
var categoryGroups = []categoryGroup{
	{"plumbing", "Plumber", []string{"plumb", "plomer"}},
	{"electrical", "Electrician", []string{"electri"}},
	{"hvac", "HVAC Contractor", []string{"hvac", "heating", "cooling", "acondicionado"}},
	{"roofing", "Roofer", []string{"roof", "techad"}},
	{"cleaning", "Cleaning Service", []string{"clean", "maid", "janitor", "limpi"}},
	{"landscaping", "Landscaper", []string{"landscap", "lawn", "garden", "jard"}},
	{"beauty", "Beauty Salon", []string{"beauty", "salon", "hair", "nail", "barber", "spa", "bellez"}},
	{"food", "Restaurant", []string{"restaurant", "food", "cafe", "bakery", "panad", "bar", "meal", "comida", "cocina"}},
	{"auto", "Auto Service", []string{"auto", "car", "mechanic", "tire", "taller"}},
	{"real-estate", "Real Estate Agency", []string{"estate", "realtor", "inmobiliari"}},
}

// CategoryKey maps a record's category tags to a template key. Tags are
// checked in order, so the primary tag wins.
func CategoryKey(categories []string) string {
	key, _ := matchCategory(categories)
	return key
}

// CategoryLabel returns a display label for the record's category: the
// matched group's label, or the humanized primary tag.
func CategoryLabel(categories []string) string {
	if _, label := matchCategory(categories); label != "" {
		return label
	}
	for _, c := range categories {
		if h := humanize(c); h != "" {
			return h
		}
	}
	return ""
}

func matchCategory(categories []string) (string, string) {
	for _, c := range categories {
		tokens := strings.Fields(strings.ToLower(removeAccents(strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(c))))
		for _, g := range categoryGroups {
			if tokensMatch(tokens, g.words) {
				return g.key, g.label
			}
		}
	}
	return GenericCategory, ""
}

func tokensMatch(tokens, words []string) bool {
	for _, t := range tokens {
		for _, w := range words {
			if t == w || (len(w) >= 4 && strings.HasPrefix(t, w)) {
				return true
			}
		}
	}
	return false
}

// ContentData is the input to a body template.
type ContentData struct {
	Name        string
	Category    string
	Locality    string
	Address     string
	Phone       string
	Email       string
	Website     string
	Rating      string
	ReviewCount int
	Hours       []string
	Brand       string
}

var defaultTemplates = map[string]string{
	"plumbing": `{{.Name}} is a plumber serving {{.Locality}}. They handle leaks, drain cleaning, water heaters and new installations for homes and businesses.
{{template "contact" .}}`,
	"electrical": `{{.Name}} provides electrical work in {{.Locality}}, from panel upgrades and rewiring to lighting and outlet repairs.
{{template "contact" .}}`,
	"hvac": `{{.Name}} installs and services air conditioning and heating systems in {{.Locality}}. Ask about maintenance plans before the hot season.
{{template "contact" .}}`,
	"roofing": `{{.Name}} is a roofing contractor in {{.Locality}} offering inspections, leak repair, waterproofing and full roof replacement.
{{template "contact" .}}`,
	"cleaning": `{{.Name}} offers residential and commercial cleaning in {{.Locality}}, including deep cleans and move-out service.
{{template "contact" .}}`,
	"landscaping": `{{.Name}} keeps yards and gardens in shape around {{.Locality}} with lawn care, planting and seasonal cleanups.
{{template "contact" .}}`,
	"food": `{{.Name}} serves food in {{.Locality}}. Stop by, or call ahead for takeout and catering.
{{template "contact" .}}`,
	"beauty": `{{.Name}} is a beauty business in {{.Locality}} offering hair, nail and skin services. Walk-ins and appointments welcome.
{{template "contact" .}}`,
	"auto": `{{.Name}} repairs and maintains vehicles in {{.Locality}}, from oil changes and brakes to diagnostics.
{{template "contact" .}}`,
	"real-estate": `{{.Name}} helps clients buy, sell and rent property in {{.Locality}}.
{{template "contact" .}}`,
	GenericCategory: `{{.Name}}{{if .Category}} is a {{.Category}}{{else}} is a local business{{end}} in {{.Locality}}.
{{template "contact" .}}`,
}

const contactTemplate = `{{define "contact"}}{{if .Rating}}Rated {{.Rating}}/5 by {{.ReviewCount}} customers.
{{end}}{{if .Address}}Address: {{.Address}}
{{end}}{{if .Phone}}Phone: {{.Phone}}
{{end}}{{if .Email}}Email: {{.Email}}
{{end}}{{if .Website}}Website: {{.Website}}
{{end}}{{if .Hours}}Hours:
{{range .Hours}}- {{.}}
{{end}}{{end}}Listed on {{.Brand}}.{{end}}`

// Templates holds one body template per category key.
type Templates struct {
	byKey map[string]*template.Template
}

// DefaultTemplates returns the built-in body templates.
func DefaultTemplates() *Templates {
	t, err := buildTemplates(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads a YAML map of category key to template text and merges
// it over the defaults.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: read templates %s", path)
	}
	return ParseTemplates(data)
}

// ParseTemplates merges YAML template overrides over the defaults.
func ParseTemplates(data []byte) (*Templates, error) {
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrap(err, "publish: parse templates")
	}
	merged := make(map[string]string, len(defaultTemplates)+len(overrides))
	for k, v := range defaultTemplates {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return buildTemplates(merged)
}

func buildTemplates(src map[string]string) (*Templates, error) {
	t := &Templates{byKey: make(map[string]*template.Template, len(src))}
	for key, text := range src {
		tmpl, err := template.New(key).Parse(contactTemplate)
		if err != nil {
			return nil, eris.Wrap(err, "publish: parse contact template")
		}
		if tmpl, err = tmpl.Parse(text); err != nil {
			return nil, eris.Wrapf(err, "publish: parse template %q", key)
		}
		t.byKey[key] = tmpl
	}
	if _, ok := t.byKey[GenericCategory]; !ok {
		return nil, eris.New("publish: no generic template")
	}
	return t, nil
}

// Render executes the template for key, falling back to the generic one.
func (t *Templates) Render(key string, data ContentData) (string, error) {
	tmpl, ok := t.byKey[key]
	if !ok {
		tmpl = t.byKey[GenericCategory]
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", eris.Wrapf(err, "publish: render template %q", key)
	}
	return strings.TrimSpace(b.String()), nil
}
