package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRosterDedupAndTrim(t *testing.T) {
	doc := []byte(`
sources:
  - username: "@alice"
    tags: [a]
    priority: 2
  - username: Alice
    priority: 1
  - username: bob
    priority: 1
`)
	roster, err := ParseRoster(doc)
	if err != nil {
		t.Fatalf("解析不应失败: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("重复账号应去重, 实际 %d 个", len(roster))
	}
	if roster[0].Handle != "alice" || roster[0].Priority != 2 {
		t.Fatalf("首个账号应保留原始定义: %+v", roster[0])
	}
	if roster[1].Tags == nil {
		t.Fatal("缺省 tags 应为空切片")
	}
}

func TestParseRosterRequiresUsername(t *testing.T) {
	if _, err := ParseRoster([]byte("sources:\n  - priority: 1\n")); err == nil {
		t.Fatal("缺少 username 应报错")
	}
}

func TestLoadRosterAppendsExtra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  - username: alice\n    priority: 1\n"), 0o600); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	roster, err := LoadRoster(SourcesConfig{File: path, Extra: []string{" ALICE ", "carol", ""}})
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("应仅追加一个新账号, 实际 %d", len(roster))
	}
	extra := roster[1]
	if extra.Handle != "carol" || extra.Priority != extraSourcePriority || len(extra.Tags) != 1 || extra.Tags[0] != extraSourceTag {
		t.Fatalf("追加账号属性不正确: %+v", extra)
	}
}

func TestLoadRosterEmbeddedDefault(t *testing.T) {
	roster, err := LoadRoster(SourcesConfig{})
	if err != nil {
		t.Fatalf("内置列表解析失败: %v", err)
	}
	found := false
	for _, src := range roster {
		if src.Handle == "lookonchain" && src.Priority == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("内置列表应包含 lookonchain")
	}
}
