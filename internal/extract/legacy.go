package extract

import (
	"encoding/json"
	"sort"

	"xalpha/internal/model"
)

type initialState struct {
	GlobalObjects *struct {
		Tweets map[string]legacyTweet `json:"tweets"`
		Users  map[string]legacyUser  `json:"users"`
	} `json:"globalObjects"`
}

type legacyTweet struct {
	IDStr                string `json:"id_str"`
	FullText             string `json:"full_text"`
	Text                 string `json:"text"`
	CreatedAt            string `json:"created_at"`
	UserIDStr            string `json:"user_id_str"`
	RetweetedStatusIDStr string `json:"retweeted_status_id_str"`
}

type legacyUser struct {
	ScreenName           string `json:"screen_name"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

// legacyStrategy reads the flat id-keyed maps under globalObjects.
type legacyStrategy struct{}

func (legacyStrategy) Name() string { return "legacy" }

func (legacyStrategy) Extract(p *Payload) ([]model.RawItem, bool) {
	block := p.InitialState()
	if len(block) == 0 {
		return nil, false
	}
	var state initialState
	if err := json.Unmarshal(block, &state); err != nil || state.GlobalObjects == nil {
		return nil, false
	}
	tweets := state.GlobalObjects.Tweets
	users := state.GlobalObjects.Users

	seen := make(map[string]struct{}, len(tweets))
	items := make([]model.RawItem, 0, len(tweets))
	for key, tw := range tweets {
		if rtID := tw.RetweetedStatusIDStr; rtID != "" {
			original, ok := tweets[rtID]
			if !ok {
				continue
			}
			tw = original
			key = rtID
		}
		id := firstNonEmpty(tw.IDStr, key)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		user := users[tw.UserIDStr]
		items = append(items, model.RawItem{
			ID:          id,
			Author:      firstNonEmpty(user.ScreenName, p.DefaultAuthor),
			AvatarURL:   user.ProfileImageURLHTTPS,
			Content:     firstNonEmpty(tw.FullText, tw.Text),
			PublishedAt: ParseTime(tw.CreatedAt),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, true
}
