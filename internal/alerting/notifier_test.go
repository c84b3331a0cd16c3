package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"whaleinsight/internal/domain"
)

func failureNote() Notification {
	return Notification{
		Kind:            KindRunFailed,
		OccurredAt:      time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
		InstitutionCIK:  "0001067983",
		AccessionNumber: "0000950123-26-001111",
		RunKind:         domain.RunKindFilingFetch,
		RunID:           "01JMABCDEF",
		Error: &domain.RunErrorPayload{
			Source:  "sec",
			Retries: 2,
			Reason:  domain.ReasonRetryExhausted,
			Message: "Request failed after 2 retries: HTTP 503",
			Status:  503,
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var (
		mu       sync.Mutex
		received = make(map[string]string)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), failureNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "sec/retry_exhausted (retries 2, HTTP 503)") {
		t.Fatalf("text 缺少错误详情: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), failureNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), failureNote()); err == nil {
		t.Fatal("502 应报错")
	}
}

func TestRenderStaleSummary(t *testing.T) {
	text := RenderMessage(Notification{
		Kind:           KindStaleSummary,
		InstitutionCIK: "0001067983",
		ReportPeriod:   "2025-12-31",
		StaleRows:      2,
		TotalRows:      5,
		StaleTickers:   []string{"AAPL", "MSFT"},
	})
	for _, want := range []string{"[13F Stale Prices]", "Period: 2025-12-31", "Stale: 2 of 5 priced rows", "Tickers: AAPL,MSFT"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q: %s", want, text)
		}
	}
	if strings.Contains(text, "Error:") {
		t.Fatalf("不应包含错误行: %s", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
