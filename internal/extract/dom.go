package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"xalpha/internal/model"
)

var statusPath = regexp.MustCompile(`/([A-Za-z0-9_]+)/status/(\d+)`)
var statusID = regexp.MustCompile(`/status/(\d+)`)

// Markers are the structural selectors of one HTML timeline layout.
type Markers struct {
	Container string
	Skip      string
	Content   string
	Time      string
	TimeAttr  []string
	Permalink string
	Author    string
	Avatar    string
	// Origin prefixes relative avatar paths.
	Origin string
}

// SyndicationMarkers match the embedded timeline widget markup.
var SyndicationMarkers = Markers{
	Container: `article, div[class*="timeline-Tweet"]`,
	Content:   `p, div[class*="tweet-text"], div[class*="content"]`,
	Time:      `time`,
	TimeAttr:  []string{"datetime"},
	Permalink: `a[href*="/status/"]`,
	Avatar:    `img[class*="avatar"], img[class*="profile"]`,
}

// NitterMarkers match Nitter mirror timelines.
var NitterMarkers = Markers{
	Container: `div.timeline-item`,
	Skip:      `.show-more`,
	Content:   `div.tweet-content`,
	Time:      `span.tweet-date a`,
	TimeAttr:  []string{"title"},
	Permalink: `a.tweet-link`,
	Author:    `a.username`,
	Avatar:    `a.tweet-avatar img`,
	Origin:    "https://nitter.net",
}

// MirrorMarkers returns NitterMarkers with relative avatars resolved against origin.
func MirrorMarkers(origin string) Markers {
	m := NitterMarkers
	if origin != "" {
		m.Origin = strings.TrimRight(origin, "/")
	}
	return m
}

// domStrategy scans HTML for post containers. Only HTML payloads qualify.
type domStrategy struct {
	markers Markers
}

func (domStrategy) Name() string { return "dom" }

func (s domStrategy) Extract(p *Payload) ([]model.RawItem, bool) {
	if p.Kind != KindHTML {
		return nil, false
	}
	doc := p.Document()
	if doc == nil {
		return nil, false
	}

	m := s.markers
	items := make([]model.RawItem, 0)
	doc.Find(m.Container).Each(func(_ int, sel *goquery.Selection) {
		if m.Skip != "" && sel.Is(m.Skip) {
			return
		}
		item, ok := s.parseContainer(sel, p.DefaultAuthor)
		if ok {
			items = append(items, item)
		}
	})
	return items, true
}

func (s domStrategy) parseContainer(sel *goquery.Selection, defaultAuthor string) (model.RawItem, bool) {
	m := s.markers

	link := sel.Find(m.Permalink).First()
	href, _ := link.Attr("href")
	id, pathAuthor := parsePermalink(href)
	if id == "" {
		return model.RawItem{}, false
	}

	content := strings.TrimSpace(sel.Find(m.Content).First().Text())
	if content == "" {
		return model.RawItem{}, false
	}

	author := pathAuthor
	if m.Author != "" {
		if name := strings.TrimPrefix(strings.TrimSpace(sel.Find(m.Author).First().Text()), "@"); name != "" {
			author = name
		}
	}

	item := model.RawItem{
		ID:      id,
		Author:  firstNonEmpty(author, defaultAuthor),
		Content: content,
	}

	if timeSel := sel.Find(m.Time).First(); timeSel.Length() > 0 {
		for _, attr := range m.TimeAttr {
			if v, ok := timeSel.Attr(attr); ok {
				item.PublishedAt = ParseTime(v)
				break
			}
		}
		if item.PublishedAt.IsZero() {
			item.PublishedAt = ParseTime(timeSel.Text())
		}
	}

	if src, ok := sel.Find(m.Avatar).First().Attr("src"); ok && src != "" {
		if strings.HasPrefix(src, "/") && m.Origin != "" {
			src = m.Origin + src
		}
		item.AvatarURL = src
	}

	return item, true
}

// parsePermalink returns the post id and, when present, the author segment.
func parsePermalink(href string) (id, author string) {
	if match := statusPath.FindStringSubmatch(href); match != nil {
		if match[1] != "i" {
			author = match[1]
		}
		return match[2], author
	}
	if match := statusID.FindStringSubmatch(href); match != nil {
		return match[1], ""
	}
	return "", ""
}
