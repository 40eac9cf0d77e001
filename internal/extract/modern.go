package extract

import (
	"encoding/json"

	"xalpha/internal/model"
)

type nextData struct {
	Props struct {
		PageProps struct {
			Timeline *struct {
				Entries []nextEntry `json:"entries"`
			} `json:"timeline"`
		} `json:"pageProps"`
	} `json:"props"`
}

type nextEntry struct {
	Type    string `json:"type"`
	Content struct {
		Tweet *nextTweet `json:"tweet"`
	} `json:"content"`
}

type nextTweet struct {
	IDStr           string     `json:"id_str"`
	FullText        string     `json:"full_text"`
	Text            string     `json:"text"`
	CreatedAt       string     `json:"created_at"`
	User            nextUser   `json:"user"`
	RetweetedStatus *nextTweet `json:"retweeted_status"`
}

type nextUser struct {
	ScreenName           string `json:"screen_name"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

// modernStrategy reads props.pageProps.timeline.entries from __NEXT_DATA__.
type modernStrategy struct{}

func (modernStrategy) Name() string { return "modern" }

func (modernStrategy) Extract(p *Payload) ([]model.RawItem, bool) {
	block := p.NextData()
	if len(block) == 0 {
		return nil, false
	}
	var doc nextData
	if err := json.Unmarshal(block, &doc); err != nil {
		return nil, false
	}
	timeline := doc.Props.PageProps.Timeline
	if timeline == nil {
		return nil, false
	}

	items := make([]model.RawItem, 0, len(timeline.Entries))
	for _, entry := range timeline.Entries {
		if entry.Type != "tweet" || entry.Content.Tweet == nil {
			continue
		}
		tw := entry.Content.Tweet
		if tw.RetweetedStatus != nil {
			tw = tw.RetweetedStatus
		}
		items = append(items, model.RawItem{
			ID:          tw.IDStr,
			Author:      firstNonEmpty(tw.User.ScreenName, p.DefaultAuthor),
			AvatarURL:   tw.User.ProfileImageURLHTTPS,
			Content:     firstNonEmpty(tw.FullText, tw.Text),
			PublishedAt: ParseTime(tw.CreatedAt),
		})
	}
	return items, true
}
