package constraint

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// MessageCatalog turns message tags into human readable text.
type MessageCatalog interface {
	Resolve(tag MessageTag) string
}

// Catalog is a MessageCatalog backed by golang.org/x/text/message. It always
// holds the English texts; other languages can be added with Set.
type Catalog struct {
	builder *catalog.Builder
	printer *message.Printer
	english *message.Printer
}

// NewCatalog creates a catalog resolving messages in lang, falling back to English.
func NewCatalog(lang language.Tag) (*Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, text := range englishMessages {
		if err := b.SetString(language.English, string(tag), text); err != nil {
			return nil, fmt.Errorf("failed to register message %s: %w", tag, err)
		}
	}
	return &Catalog{
		builder: b,
		printer: message.NewPrinter(lang, message.Catalog(b)),
		english: message.NewPrinter(language.English, message.Catalog(b)),
	}, nil
}

// DefaultCatalog returns an English catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(language.English)
	if err != nil {
		panic(err)
	}
	return c
}

// Set registers the text of tag in lang.
func (c *Catalog) Set(lang language.Tag, tag MessageTag, text string) error {
	return c.builder.SetString(lang, string(tag), text)
}

// Resolve returns the text of tag in the catalog language, the English text
// when the language has none, or the tag itself when unknown.
func (c *Catalog) Resolve(tag MessageTag) string {
	key := message.Key(string(tag), string(tag))
	if text := c.printer.Sprintf(key); text != string(tag) {
		return text
	}
	return c.english.Sprintf(key)
}

// Describe renders each outcome of r as one line of text.
func Describe(r Result, cat MessageCatalog) []string {
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("[%s] %s", o.Status, cat.Resolve(o.Tag))
		if o.ErrorTag != "" {
			line += " " + cat.Resolve(o.ErrorTag)
		}
		if o.AdditionalInfo != "" {
			line += " (" + o.AdditionalInfo + ")"
		}
		lines = append(lines, line)
	}
	return lines
}
