package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNewSECClientRequiresUserAgent(t *testing.T) {
	if _, err := NewSECClient(SECOptions{UserAgent: "  "}, noopLogger()); err == nil {
		t.Fatal("缺少 User-Agent 时应报错")
	}
}

func TestSECClientEndpoints(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.Header.Get("User-Agent")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/submissions/"):
			_, _ = w.Write([]byte(`{
				"cik": "1067983",
				"name": "BERKSHIRE HATHAWAY INC",
				"filings": {"recent": {
					"accessionNumber": ["0000950123-25-011111", "0000950123-25-008888"],
					"filingDate": ["2025-11-14", "2025-08-14"],
					"reportDate": ["2025-09-30", "2025-06-30"],
					"form": ["13F-HR", "13F-HR"],
					"primaryDocument": ["xslForm13F_X02/primary_doc.xml"]
				}}
			}`))
		case r.URL.Path == "/files/company_tickers.json":
			_, _ = w.Write([]byte(`{"0":{"cik_str":1067983,"ticker":"BRK-B","title":"BERKSHIRE HATHAWAY INC"}}`))
		case strings.HasSuffix(r.URL.Path, "/index.json"):
			_, _ = w.Write([]byte(`{"directory":{"name":"/Archives/edgar/data/1067983/000095012325011111","item":[{"name":"infotable.xml","type":"text.gif","size":"1024"}]}}`))
		case strings.HasSuffix(r.URL.Path, "/infotable.xml"):
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<informationTable/>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewSECClient(SECOptions{
		BaseURL:        srv.URL,
		ArchiveBaseURL: srv.URL,
		UserAgent:      "whaleinsight test@example.com",
		Retry:          RetryPolicy{MaxRetries: 0},
	}, noopLogger())
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	ctx := context.Background()

	subs, err := client.Submissions(ctx, "1067983")
	if err != nil {
		t.Fatalf("Submissions 失败: %v", err)
	}
	if subs.Filings.Recent.Len() != 2 {
		t.Fatalf("期望 2 条 recent filings, 实际 %d", subs.Filings.Recent.Len())
	}
	_, row, ok := subs.Filings.Recent.Find("0000950123-25-008888")
	if !ok || row.ReportDate != "2025-06-30" || row.PrimaryDocument != "" {
		t.Fatalf("Find 结果不正确: %+v", row)
	}

	tickers, err := client.CompanyTickers(ctx)
	if err != nil {
		t.Fatalf("CompanyTickers 失败: %v", err)
	}
	if tickers["0"].CIK != 1067983 {
		t.Fatalf("cik_str 解析不正确: %+v", tickers["0"])
	}

	index, err := client.FilingIndex(ctx, "0001067983", "0000950123-25-011111")
	if err != nil {
		t.Fatalf("FilingIndex 失败: %v", err)
	}
	if len(index.Directory.Item) != 1 || index.Directory.Item[0].Name != "infotable.xml" {
		t.Fatalf("目录解析不正确: %+v", index.Directory)
	}

	doc, err := client.Document(ctx, "0001067983", "0000950123-25-011111", "infotable.xml")
	if err != nil {
		t.Fatalf("Document 失败: %v", err)
	}
	if string(doc) != "<informationTable/>" {
		t.Fatalf("文档内容不正确: %s", doc)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, path := range []string{
		"/submissions/CIK0001067983.json",
		"/files/company_tickers.json",
		"/Archives/edgar/data/1067983/000095012325011111/index.json",
		"/Archives/edgar/data/1067983/000095012325011111/infotable.xml",
	} {
		ua, ok := seen[path]
		if !ok {
			t.Fatalf("未请求 %s, 实际 %v", path, seen)
		}
		if ua != "whaleinsight test@example.com" {
			t.Fatalf("%s 缺少 User-Agent", path)
		}
	}
}

func TestDocumentURL(t *testing.T) {
	got := DocumentURL("https://www.sec.gov/", "0001067983", "0000950123-25-011111", "primary_doc.xml")
	want := "https://www.sec.gov/Archives/edgar/data/1067983/000095012325011111/primary_doc.xml"
	if got != want {
		t.Fatalf("期望 %s, 实际 %s", want, got)
	}
}
