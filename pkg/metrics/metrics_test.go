package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("requests_total", "Total requests.")
	c.Inc()
	c.Add(4)
	if got := c.Value(); got != 5 {
		t.Fatalf("Value() = %d, want 5", got)
	}
	// Same name returns the same counter.
	if r.Counter("requests_total", "") != c {
		t.Fatal("expected identical counter instance")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("inflight", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 2 {
		t.Fatalf("Value() = %d, want 2", got)
	}
}

func TestCounterConcurrent(t *testing.T) {
	r := New()
	c := r.Counter("hits", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Value(); got != 5000 {
		t.Fatalf("Value() = %d, want 5000", got)
	}
}

func TestWithLabels(t *testing.T) {
	got := WithLabels("http_requests_total", "method", "GET", "code", "200")
	want := `http_requests_total{method="GET",code="200"}`
	if got != want {
		t.Fatalf("WithLabels = %q, want %q", got, want)
	}
	if got := WithLabels("plain"); got != "plain" {
		t.Fatalf("no labels: got %q", got)
	}
	if got := WithLabels("odd", "k"); got != "odd" {
		t.Fatalf("odd kvs: got %q", got)
	}
}

func TestRenderCounterAndGauge(t *testing.T) {
	r := New()
	r.Counter("jobs_total", "Jobs processed.").Add(7)
	r.Gauge("queue_depth", "").Set(2)

	out := r.Render()
	for _, want := range []string{
		"# HELP jobs_total Jobs processed.\n",
		"# TYPE jobs_total counter\n",
		"jobs_total 7\n",
		"# TYPE queue_depth gauge\n",
		"queue_depth 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderLabeledSeriesShareHeader(t *testing.T) {
	r := New()
	r.Counter(WithLabels("req_total", "code", "200"), "Requests.").Add(3)
	r.Counter(WithLabels("req_total", "code", "500"), "Requests.").Inc()

	out := r.Render()
	if strings.Count(out, "# TYPE req_total counter") != 1 {
		t.Fatalf("expected one TYPE line:\n%s", out)
	}
	if !strings.Contains(out, `req_total{code="200"} 3`) || !strings.Contains(out, `req_total{code="500"} 1`) {
		t.Fatalf("missing labeled series:\n%s", out)
	}
}

func TestRenderHistogram(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "", []float64{0.1, 1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	out := r.Render()
	for _, want := range []string{
		"# TYPE latency_seconds histogram\n",
		`latency_seconds_bucket{le="0.1"} 1` + "\n",
		`latency_seconds_bucket{le="1"} 2` + "\n",
		`latency_seconds_bucket{le="+Inf"} 3` + "\n",
		"latency_seconds_sum 5.55\n",
		"latency_seconds_count 3\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderHistogramLabeled(t *testing.T) {
	r := New()
	h := r.Histogram(WithLabels("rt_seconds", "route", "/v1/x"), "", []float64{1})
	h.Observe(0.3)

	out := r.Render()
	for _, want := range []string{
		`rt_seconds_bucket{le="1",route="/v1/x"} 1`,
		`rt_seconds_sum{route="/v1/x"} 0.3`,
		`rt_seconds_count{route="/v1/x"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("c", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "c 1") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
