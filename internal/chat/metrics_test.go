package chat

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsServer_ExposesChatMetrics(t *testing.T) {
	r := startRegistry(t)
	if err := r.Register("metric", make(chanSink, 4)); err != nil {
		t.Fatal(err)
	}
	_ = r.Register("ab", make(chanSink, 4))

	srv := NewMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Result().Body)
	text := string(body)
	for _, name := range []string{
		"chat_connected_clients",
		"chat_nickname_rejections_total{reason=\"too_short\"}",
		"chat_event_processing_seconds_bucket",
	} {
		if !strings.Contains(text, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
