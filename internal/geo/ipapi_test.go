package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "nodesift/pkg/errors"
)

func testClient(url string) *Client {
	return NewClient(ClientConfig{
		BatchURL:   url,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    10 * time.Millisecond,
		BatchPause: 10 * time.Millisecond,
	})
}

func answerFor(q batchQuery, hosting bool) batchAnswer {
	return batchAnswer{
		Status:  "success",
		Country: "United States", CountryCode: "US",
		ISP: "Example ISP", Org: "Example Org",
		AS:      "AS16509 Amazon.com, Inc.",
		Hosting: hosting,
	}
}

func TestQueryDeduplicatesAndParses(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var queries []batchQuery
		json.NewDecoder(r.Body).Decode(&queries)
		answers := make([]batchAnswer, len(queries))
		for i, q := range queries {
			answers[i] = answerFor(q, true)
		}
		json.NewEncoder(w).Encode(answers)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got := c.Query(context.Background(), []string{"1.1.1.1", "2.2.2.2", "1.1.1.1"})

	if requests.Load() != 1 {
		t.Errorf("expected a single batch request, got %d", requests.Load())
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	info := got["1.1.1.1"]
	if !info.Success || !info.Hosting || info.ASN != 16509 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestQuerySplitsLargeBatches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var queries []batchQuery
		json.NewDecoder(r.Body).Decode(&queries)
		if len(queries) > maxBatchSize {
			t.Errorf("batch of %d exceeds limit", len(queries))
		}
		answers := make([]batchAnswer, len(queries))
		for i, q := range queries {
			answers[i] = answerFor(q, false)
		}
		json.NewEncoder(w).Encode(answers)
	}))
	defer srv.Close()

	ips := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		ips = append(ips, fmt.Sprintf("10.0.%d.%d", i/100, i%100))
	}

	c := testClient(srv.URL)
	got := c.Query(context.Background(), ips)

	if requests.Load() != 2 {
		t.Errorf("expected 2 batches, got %d", requests.Load())
	}
	if len(got) != 150 {
		t.Errorf("expected 150 results, got %d", len(got))
	}
}

func TestQueryRetriesRateLimitThenSucceeds(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var queries []batchQuery
		json.NewDecoder(r.Body).Decode(&queries)
		answers := make([]batchAnswer, len(queries))
		for i, q := range queries {
			answers[i] = answerFor(q, true)
		}
		json.NewEncoder(w).Encode(answers)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got := c.Query(context.Background(), []string{"9.9.9.9"})

	if requests.Load() != 2 {
		t.Errorf("expected one retry, got %d requests", requests.Load())
	}
	if !got["9.9.9.9"].Success {
		t.Error("expected success after retry")
	}
}

func TestQueryRateLimitExhaustionYieldsQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got := c.Query(context.Background(), []string{"8.8.8.8"})

	info := got["8.8.8.8"]
	if info.Success {
		t.Fatal("expected failure after retry exhaustion")
	}
	var qe *pkgerrors.QueryError
	if !errors.As(info.Err, &qe) {
		t.Errorf("expected QueryError, got %v", info.Err)
	}
}

func TestQueryFailStatusPerIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var queries []batchQuery
		json.NewDecoder(r.Body).Decode(&queries)
		answers := make([]batchAnswer, len(queries))
		for i, q := range queries {
			if q.Query == "192.0.2.66" {
				answers[i] = batchAnswer{Status: "fail"}
			} else {
				answers[i] = answerFor(q, false)
			}
		}
		json.NewEncoder(w).Encode(answers)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got := c.Query(context.Background(), []string{"192.0.2.66", "192.0.2.77"})

	if got["192.0.2.66"].Success {
		t.Error("fail status should not be a success")
	}
	if !got["192.0.2.77"].Success {
		t.Error("the other IP must be unaffected")
	}
}

func TestExtractASN(t *testing.T) {
	cases := map[string]uint32{
		"AS16509 Amazon.com, Inc.": 16509,
		"as14061 DigitalOcean":     14061,
		"":                         0,
		"Comcast":                  0,
		"ASxyz broken":             0,
	}
	for in, want := range cases {
		if got := extractASN(in); got != want {
			t.Errorf("extractASN(%q) = %d, want %d", in, got, want)
		}
	}
}
