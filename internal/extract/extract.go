// Package extract turns fetched timeline payloads into canonical items.
//
// Payloads are decoded by an ordered chain of strategies. Each strategy
// recognises one known payload variant and reports whether it matched; the
// first strategy producing items wins. Reposts always resolve to the
// original post and its author.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"xalpha/internal/model"
)

// Kind identifies the transport format of a payload.
type Kind int

const (
	KindHTML Kind = iota
	KindJSON
	KindFeed
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindJSON:
		return "json"
	case KindFeed:
		return "feed"
	default:
		return "unknown"
	}
}

// Payload is a single fetched document plus lazily located embedded blocks.
type Payload struct {
	Raw           []byte
	Kind          Kind
	DefaultAuthor string

	now func() time.Time

	docLoaded bool
	doc       *goquery.Document

	nextLoaded bool
	next       []byte

	stateLoaded bool
	state       []byte
}

// Strategy decodes one payload variant. ok reports whether the variant was
// recognised; a recognised variant may still yield zero items.
type Strategy interface {
	Name() string
	Extract(p *Payload) (items []model.RawItem, ok bool)
}

// Extractor runs the strategy chain.
type Extractor struct {
	strategies []Strategy
	now        func() time.Time
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithMarkers sets the DOM markers used by the HTML fallback scan.
func WithMarkers(m Markers) Option {
	return func(e *Extractor) {
		for i, s := range e.strategies {
			if _, isDOM := s.(domStrategy); isDOM {
				e.strategies[i] = domStrategy{markers: m}
			}
		}
	}
}

// WithClock overrides the clock used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New builds an extractor with the default chain:
// modern, legacy, generic, DOM scan, feed.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		strategies: []Strategy{
			modernStrategy{},
			legacyStrategy{},
			genericStrategy{},
			domStrategy{markers: SyndicationMarkers},
			feedStrategy{},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the items of the first strategy that yields any.
func (e *Extractor) Extract(raw []byte, kind Kind, defaultAuthor string) []model.RawItem {
	items, _ := e.ExtractWith(raw, kind, defaultAuthor)
	return items
}

// ExtractWith is Extract that also reports the winning strategy name.
func (e *Extractor) ExtractWith(raw []byte, kind Kind, defaultAuthor string) ([]model.RawItem, string) {
	p := &Payload{Raw: raw, Kind: kind, DefaultAuthor: defaultAuthor, now: e.now}
	for _, s := range e.strategies {
		items, ok := s.Extract(p)
		if !ok || len(items) == 0 {
			continue
		}
		return finalize(items, p), s.Name()
	}
	return []model.RawItem{}, ""
}

// Extract runs the default chain.
func Extract(raw []byte, kind Kind, defaultAuthor string) []model.RawItem {
	return New().Extract(raw, kind, defaultAuthor)
}

func finalize(items []model.RawItem, p *Payload) []model.RawItem {
	out := items[:0]
	for _, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		it.Content = strings.TrimSpace(it.Content)
		if it.ID == "" || it.Content == "" {
			continue
		}
		if it.Author == "" {
			it.Author = p.DefaultAuthor
		}
		if it.PublishedAt.IsZero() {
			it.PublishedAt = p.now().UTC()
		}
		it.SourceURL = model.PostURL(it.Author, it.ID)
		out = append(out, it)
	}
	return out
}

// Document parses the payload as HTML once.
func (p *Payload) Document() *goquery.Document {
	if p.docLoaded {
		return p.doc
	}
	p.docLoaded = true
	if p.Kind != KindHTML {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Raw))
	if err != nil {
		return nil
	}
	p.doc = doc
	return doc
}

// NextData returns the __NEXT_DATA__ JSON block, or the body itself for JSON payloads.
func (p *Payload) NextData() []byte {
	if p.nextLoaded {
		return p.next
	}
	p.nextLoaded = true
	switch p.Kind {
	case KindJSON:
		p.next = p.Raw
	case KindHTML:
		if doc := p.Document(); doc != nil {
			text := strings.TrimSpace(doc.Find(`script#__NEXT_DATA__`).First().Text())
			if text != "" {
				p.next = []byte(text)
			}
		}
	}
	return p.next
}

const initialStateMarker = "window.__INITIAL_STATE__"

// InitialState returns the object assigned to window.__INITIAL_STATE__, or
// the body itself for JSON payloads.
func (p *Payload) InitialState() []byte {
	if p.stateLoaded {
		return p.state
	}
	p.stateLoaded = true
	switch p.Kind {
	case KindJSON:
		p.state = p.Raw
	case KindHTML:
		p.state = assignedObject(p.Raw, initialStateMarker)
	}
	return p.state
}

// assignedObject decodes exactly one JSON value following `marker =`.
func assignedObject(raw []byte, marker string) []byte {
	idx := bytes.Index(raw, []byte(marker))
	if idx < 0 {
		return nil
	}
	rest := raw[idx+len(marker):]
	eq := bytes.IndexByte(rest, '=')
	if eq < 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(rest[eq+1:]))
	var value json.RawMessage
	if err := dec.Decode(&value); err != nil {
		return nil
	}
	if len(value) == 0 || value[0] != '{' {
		return nil
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
