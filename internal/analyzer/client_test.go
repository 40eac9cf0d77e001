package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestChatClientMissingKey(t *testing.T) {
	c := NewChatClient(ClientOptions{BaseURL: "http://127.0.0.1:1"}, zerolog.Nop())
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("缺少 API Key 时应返回错误")
	}
}

func TestChatClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("路径不正确: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("鉴权头不正确: %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("请求体无法解析: %v", err)
		}
		if req.Model != "deepseek-chat" || req.Temperature != 0.3 || req.MaxTokens != 500 {
			t.Errorf("请求参数不正确: %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "KOL: @alice\nhi" {
			t.Errorf("消息不正确: %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "deepseek-chat",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  {\"is_relevant\": false}\n"}},
			},
		})
	}))
	defer srv.Close()

	c := NewChatClient(ClientOptions{
		BaseURL:     srv.URL + "/",
		APIKey:      "sk-test",
		Model:       "deepseek-chat",
		Timeout:     time.Second,
		Temperature: 0.3,
		MaxTokens:   500,
	}, zerolog.Nop())

	text, err := c.Complete(context.Background(), "system", "KOL: @alice\nhi")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if text != `{"is_relevant": false}` {
		t.Fatalf("应返回去除空白的内容: %q", text)
	}
}

func TestChatClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "invalid api key"}})
	}))
	defer srv.Close()

	c := NewChatClient(ClientOptions{BaseURL: srv.URL, APIKey: "bad"}, zerolog.Nop())
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("HTTP 401 应返回服务端错误信息: %v", err)
	}
}

func TestChatClientNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := NewChatClient(ClientOptions{BaseURL: srv.URL, APIKey: "k"}, zerolog.Nop())
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("没有候选结果时应返回错误")
	}
}
