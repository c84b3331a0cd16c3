package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestYahooPriceChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/BRK.B" {
			t.Errorf("路径不正确: %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1d" || r.URL.Query().Get("range") != "1y" {
			t.Errorf("查询参数不正确: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart":{"result":[{
			"meta":{"symbol":"BRK.B","currency":"USD"},
			"timestamp":[1761955200,1762041600],
			"indicators":{"quote":[{
				"open":[100.5,null],"high":[101,null],"low":[99,null],"close":[100,null],"volume":[1000,null]
			}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooOptions{BaseURL: srv.URL}, noopLogger())
	chart, err := client.PriceChart(context.Background(), "BRK.B", "", "")
	if err != nil {
		t.Fatalf("PriceChart 失败: %v", err)
	}
	if chart.Chart.Error != nil {
		t.Fatalf("不应有 chart.error: %+v", chart.Chart.Error)
	}
	if len(chart.Chart.Result) != 1 {
		t.Fatalf("期望 1 个 result, 实际 %d", len(chart.Chart.Result))
	}
	quote := chart.Chart.Result[0].Indicators.Quote[0]
	if !quote.Open[0].Valid || quote.Open[0].Decimal.String() != "100.5" {
		t.Fatalf("open 解析不正确: %+v", quote.Open[0])
	}
	if quote.Close[1].Valid {
		t.Fatal("null 收盘价应为无效值")
	}
}

func TestYahooChartErrorObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooOptions{BaseURL: srv.URL}, noopLogger())
	chart, err := client.PriceChart(context.Background(), "ZZZZ", "1d", "1y")
	if err != nil {
		t.Fatalf("chart.error 属于数据层错误, 不应返回 error: %v", err)
	}
	if chart.Chart.Error == nil || chart.Chart.Error.Code != "Not Found" {
		t.Fatalf("应解析出 chart.error: %+v", chart.Chart.Error)
	}
}
