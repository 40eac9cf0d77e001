package analyzer

import (
	"strings"
	"testing"

	"xalpha/internal/model"
)

func TestParseVerdictSentimentNormalisation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"negative", `-3`, 0},
		{"above range", `15`, 10},
		{"fraction", `7.6`, 7},
		{"string", `"8"`, 8},
		{"missing", ``, 5},
		{"null", `null`, 5},
		{"negative fraction", `-0.4`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{"is_relevant": true, "signal_type": "BUY"}`
			if tc.raw != "" {
				body = `{"is_relevant": true, "signal_type": "BUY", "sentiment_score": ` + tc.raw + `}`
			}
			got, err := ParseVerdict(body, "")
			if err != nil {
				t.Fatalf("不应报错: %v", err)
			}
			if got.SentimentScore != tc.want {
				t.Fatalf("期望 %d, 实际 %d", tc.want, got.SentimentScore)
			}
		})
	}
}

func TestParseVerdictNonNumericSentimentFails(t *testing.T) {
	if _, err := ParseVerdict(`{"is_relevant": true, "sentiment_score": "very high"}`, ""); err == nil {
		t.Fatal("非数字评分应返回错误")
	}
}

func TestParseVerdictCodeFence(t *testing.T) {
	text := "```json\n{\"is_relevant\": true, \"sentiment_score\": 9, \"related_assets\": [\"btc\"], \"signal_type\": \"BUY\", \"summary\": \"看涨\"}\n```"
	got, err := ParseVerdict(text, "")
	if err != nil {
		t.Fatalf("代码块应被剥离: %v", err)
	}
	if !got.IsRelevant || got.SentimentScore != 9 || got.SignalType != model.SignalBuy {
		t.Fatalf("解析结果不正确: %+v", got)
	}
	if len(got.RelatedAssets) != 1 || got.RelatedAssets[0] != "BTC" {
		t.Fatalf("资产应转为大写: %v", got.RelatedAssets)
	}
}

func TestParseVerdictSingleLineFence(t *testing.T) {
	for _, text := range []string{
		"```json {\"is_relevant\": true, \"sentiment_score\": 8, \"signal_type\": \"BUY\"}```",
		"```{\"is_relevant\": true, \"sentiment_score\": 8, \"signal_type\": \"BUY\"}```",
	} {
		got, err := ParseVerdict(text, "")
		if err != nil {
			t.Fatalf("单行代码块应可解析: %q: %v", text, err)
		}
		if !got.IsRelevant || got.SentimentScore != 8 || got.SignalType != model.SignalBuy {
			t.Fatalf("解析结果不正确: %q: %+v", text, got)
		}
	}
}

func TestParseVerdictEmbeddedObject(t *testing.T) {
	text := `Sure, here is the result: {"is_relevant": false, "sentiment_score": 4, "signal_type": "WATCH"} hope it helps`
	got, err := ParseVerdict(text, "")
	if err != nil {
		t.Fatalf("应提取内嵌 JSON: %v", err)
	}
	if got.IsRelevant || got.SentimentScore != 4 || got.SignalType != model.SignalWatch {
		t.Fatalf("解析结果不正确: %+v", got)
	}
}

func TestParseVerdictGarbage(t *testing.T) {
	for _, text := range []string{"", "not json at all", "```\n```", "[1,2,3]"} {
		if _, err := ParseVerdict(text, ""); err == nil {
			t.Fatalf("无效输出应报错: %q", text)
		}
	}
}

func TestParseVerdictDefaultsAndEnums(t *testing.T) {
	got, err := ParseVerdict(`{"signal_type": "moon", "related_assets": [" eth ", "ETH", "", "sol"]}`, "")
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if got.IsRelevant {
		t.Fatal("缺失 is_relevant 应视为不相关")
	}
	if got.SignalType != model.SignalNeutral {
		t.Fatalf("未知类型应归为 NEUTRAL, 实际 %s", got.SignalType)
	}
	if strings.Join(got.RelatedAssets, ",") != "ETH,SOL" {
		t.Fatalf("资产应去重并大写: %v", got.RelatedAssets)
	}

	empty, err := ParseVerdict(`{"is_relevant": true}`, "")
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if empty.RelatedAssets == nil || len(empty.RelatedAssets) != 0 {
		t.Fatalf("资产默认应为空切片: %#v", empty.RelatedAssets)
	}
}

func TestParseVerdictSummaryAndURL(t *testing.T) {
	url := "https://x.com/alice/status/1"

	got, err := ParseVerdict(`{"is_relevant": true, "summary_zh": "比特币突破"}`, url)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if got.Summary != "比特币突破 "+url {
		t.Fatalf("摘要应追加链接: %q", got.Summary)
	}

	again, _ := ParseVerdict(`{"is_relevant": true, "summary": "见 `+url+`"}`, url)
	if strings.Count(again.Summary, url) != 1 {
		t.Fatalf("链接不应重复追加: %q", again.Summary)
	}

	bare, _ := ParseVerdict(`{"is_relevant": true}`, url)
	if bare.Summary != url {
		t.Fatalf("空摘要应只包含链接: %q", bare.Summary)
	}
}
