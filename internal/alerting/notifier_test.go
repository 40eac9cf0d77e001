package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xalpha/internal/model"
)

func testNotification() Notification {
	return Notification{
		CycleID: "cycle-1",
		Signal: model.Signal{
			ID:          "1800000000000000001",
			Author:      "lookonchain",
			Summary:     "巨鲸增持 ETH",
			Assets:      []string{"ETH"},
			SignalType:  model.SignalBuy,
			Sentiment:   8,
			SourceURL:   "https://x.com/lookonchain/status/1800000000000000001",
			PublishedAt: time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	if !strings.Contains(text, "[X-Alpha BUY] @lookonchain") || !strings.Contains(text, "Assets: ETH") {
		t.Fatalf("消息内容不正确: %q", text)
	}
	if !strings.HasSuffix(text, "/status/1800000000000000001") {
		t.Fatalf("消息应以原文链接结尾: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("非 2xx 响应应报错")
	}
}

func TestRenderMessageSkipsDuplicateURL(t *testing.T) {
	note := testNotification()
	note.Signal.Summary = "巨鲸增持 ETH " + note.Signal.SourceURL
	msg := renderMessage(note)
	if strings.Count(msg, note.Signal.SourceURL) != 1 {
		t.Fatalf("链接不应重复出现: %q", msg)
	}
}

func TestFilterAllow(t *testing.T) {
	f := NewFilter([]string{"buy", "SELL", "bogus"}, 7)
	if len(f.Types) != 2 {
		t.Fatalf("未知类型应被忽略: %v", f.Types)
	}

	cases := []struct {
		st        model.SignalType
		sentiment int
		want      bool
	}{
		{model.SignalBuy, 8, true},
		{model.SignalBuy, 6, false},
		{model.SignalSell, 2, true},
		{model.SignalSell, 5, false},
		{model.SignalWatch, 10, false},
	}
	for _, tc := range cases {
		got := f.Allow(model.Signal{SignalType: tc.st, Sentiment: tc.sentiment})
		if got != tc.want {
			t.Fatalf("%s/%d: 期望 %v, 实际 %v", tc.st, tc.sentiment, tc.want, got)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
