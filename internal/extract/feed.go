package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"xalpha/internal/model"
)

// feedStrategy reads mirror RSS/Atom timelines.
type feedStrategy struct{}

func (feedStrategy) Name() string { return "feed" }

func (feedStrategy) Extract(p *Payload) ([]model.RawItem, bool) {
	if p.Kind != KindFeed {
		return nil, false
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(p.Raw))
	if err != nil {
		return nil, false
	}

	items := make([]model.RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		id, author := parsePermalink(firstNonEmpty(entry.Link, entry.GUID))
		if id == "" {
			continue
		}
		if author == "" && entry.Author != nil {
			author = strings.TrimPrefix(strings.TrimSpace(entry.Author.Name), "@")
		}

		item := model.RawItem{
			ID:      id,
			Author:  firstNonEmpty(author, p.DefaultAuthor),
			Content: plainText(firstNonEmpty(entry.Description, entry.Content, entry.Title)),
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed.UTC()
		}
		if entry.Image != nil {
			item.AvatarURL = entry.Image.URL
		} else if feed.Image != nil {
			item.AvatarURL = feed.Image.URL
		}
		items = append(items, item)
	}
	return items, true
}

// plainText strips markup from an HTML fragment.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}

// LooksLikeFeed reports whether a response body is an RSS or Atom document.
func LooksLikeFeed(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "rss") || strings.Contains(ct, "atom") {
		return true
	}
	head := bytes.TrimSpace(body)
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<?xml")) || bytes.HasPrefix(head, []byte("<rss")) || bytes.HasPrefix(head, []byte("<feed"))
}
