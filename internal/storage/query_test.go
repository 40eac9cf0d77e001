package storage

import (
	"strings"
	"testing"
	"time"
)

func TestBuildSignalQueryPostgres(t *testing.T) {
	minScore := 7
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildSignalQuery(Query{
		Limit:        5,
		MinSentiment: &minScore,
		Asset:        " btc ",
		SignalType:   "buy",
		Since:        since,
	}, postgresDialect)

	for _, frag := range []string{
		"sentiment >= $1",
		"$2 = ANY(assets)",
		"signal_type = $3",
		"created_at >= $4",
		"ORDER BY created_at DESC",
		"LIMIT $5",
	} {
		if !strings.Contains(query, frag) {
			t.Fatalf("查询缺少 %q:\n%s", frag, query)
		}
	}
	if len(args) != 5 {
		t.Fatalf("参数数量应为 5, 实际 %d", len(args))
	}
	if args[1] != "BTC" || args[2] != "BUY" || args[4] != 5 {
		t.Fatalf("参数未规范化: %v", args)
	}
}

func TestBuildSignalQueryDefaultsLimit(t *testing.T) {
	query, args := buildSignalQuery(Query{}, sqliteDialect)
	if strings.Contains(query, "WHERE") {
		t.Fatalf("无过滤条件时不应包含 WHERE:\n%s", query)
	}
	if len(args) != 1 || args[0] != DefaultQueryLimit {
		t.Fatalf("默认 limit 应为 %d, 实际 %v", DefaultQueryLimit, args)
	}
}
