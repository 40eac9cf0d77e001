package extract

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"xalpha/internal/model"
)

// minPostIDLen separates post ids from shorter numeric ids (users, media).
const minPostIDLen = 10

type graphTweet struct {
	Typename string      `json:"__typename"`
	RestID   string      `json:"rest_id"`
	Tweet    *graphTweet `json:"tweet"`
	Core     struct {
		UserResults struct {
			Result *graphUser `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy struct {
		IDStr                 string `json:"id_str"`
		FullText              string `json:"full_text"`
		CreatedAt             string `json:"created_at"`
		RetweetedStatusResult struct {
			Result *graphTweet `json:"result"`
		} `json:"retweeted_status_result"`
	} `json:"legacy"`
}

type graphUser struct {
	Legacy struct {
		ScreenName           string `json:"screen_name"`
		ProfileImageURLHTTPS string `json:"profile_image_url_https"`
	} `json:"legacy"`
}

// genericStrategy walks any embedded JSON tree. Objects typed as "Tweet"
// are collected first; untyped objects that look like posts fill in ids
// not already captured.
type genericStrategy struct{}

func (genericStrategy) Name() string { return "generic" }

func (genericStrategy) Extract(p *Payload) ([]model.RawItem, bool) {
	trees := jsonTrees(p)
	if len(trees) == 0 {
		return nil, false
	}

	captured := make(map[string]struct{})
	items := make([]model.RawItem, 0)
	add := func(it model.RawItem) {
		if it.ID == "" || strings.TrimSpace(it.Content) == "" {
			return
		}
		if _, dup := captured[it.ID]; dup {
			return
		}
		captured[it.ID] = struct{}{}
		items = append(items, it)
	}

	for _, tree := range trees {
		walk(tree, func(obj map[string]any) bool {
			if !isTypedTweet(obj) {
				return true
			}
			if it, ok := decodeTypedTweet(obj); ok {
				add(it)
			}
			return false
		})
	}

	for _, tree := range trees {
		walk(tree, func(obj map[string]any) bool {
			if isTypedTweet(obj) {
				return false
			}
			it, ok := untypedPost(obj)
			if !ok {
				return true
			}
			add(it)
			return false
		})
	}

	return items, true
}

func jsonTrees(p *Payload) []any {
	var blocks [][]byte
	switch p.Kind {
	case KindJSON:
		blocks = append(blocks, p.Raw)
	case KindHTML:
		if b := p.NextData(); len(b) > 0 {
			blocks = append(blocks, b)
		}
		if b := p.InitialState(); len(b) > 0 {
			blocks = append(blocks, b)
		}
		if doc := p.Document(); doc != nil {
			for _, node := range doc.Find(`script[type="application/json"]`).Nodes {
				if node.FirstChild == nil {
					continue
				}
				text := []byte(strings.TrimSpace(node.FirstChild.Data))
				if len(text) > 0 && !containsBlock(blocks, text) {
					blocks = append(blocks, text)
				}
			}
		}
	}

	trees := make([]any, 0, len(blocks))
	for _, b := range blocks {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err == nil {
			trees = append(trees, tree)
		}
	}
	return trees
}

func containsBlock(blocks [][]byte, b []byte) bool {
	for _, existing := range blocks {
		if bytes.Equal(existing, b) {
			return true
		}
	}
	return false
}

// walk visits every object depth-first in key order. visit returns false to
// skip the object's children.
func walk(node any, visit func(map[string]any) bool) {
	switch v := node.(type) {
	case map[string]any:
		if !visit(v) {
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(v[k], visit)
		}
	case []any:
		for _, child := range v {
			walk(child, visit)
		}
	}
}

func isTypedTweet(obj map[string]any) bool {
	return stringField(obj, "__typename") == "Tweet" || stringField(obj, "typename") == "Tweet"
}

func decodeTypedTweet(obj map[string]any) (model.RawItem, bool) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return model.RawItem{}, false
	}
	var tw graphTweet
	if err := json.Unmarshal(raw, &tw); err != nil {
		return model.RawItem{}, false
	}
	if rt := unwrapGraphTweet(tw.Legacy.RetweetedStatusResult.Result); rt != nil {
		tw = *rt
	}

	id := firstNonEmpty(tw.Legacy.IDStr, tw.RestID)
	item := model.RawItem{
		ID:          id,
		Content:     tw.Legacy.FullText,
		PublishedAt: ParseTime(tw.Legacy.CreatedAt),
	}
	if user := tw.Core.UserResults.Result; user != nil {
		item.Author = user.Legacy.ScreenName
		item.AvatarURL = user.Legacy.ProfileImageURLHTTPS
	}
	return item, id != ""
}

func unwrapGraphTweet(tw *graphTweet) *graphTweet {
	for tw != nil && tw.Tweet != nil && tw.Legacy.IDStr == "" {
		tw = tw.Tweet
	}
	return tw
}

func untypedPost(obj map[string]any) (model.RawItem, bool) {
	if nested, ok := obj["retweeted_status"].(map[string]any); ok {
		if it, ok := untypedPost(nested); ok {
			return it, true
		}
	}

	content := firstNonEmpty(stringField(obj, "full_text"), stringField(obj, "text"))
	id := firstNonEmpty(stringField(obj, "id_str"), stringField(obj, "rest_id"))
	if content == "" || len(id) <= minPostIDLen {
		return model.RawItem{}, false
	}

	item := model.RawItem{
		ID:          id,
		Content:     content,
		PublishedAt: ParseTime(stringField(obj, "created_at")),
	}
	if user, ok := obj["user"].(map[string]any); ok {
		item.Author = stringField(user, "screen_name")
		item.AvatarURL = stringField(user, "profile_image_url_https")
	}
	return item, true
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
