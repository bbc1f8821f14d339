package transcripts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "secret", WithRateLimit(1000))
}

func TestClient_FetchItems(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/transcripts/TCS":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"items":[
				{"status":"available","quarter":"q2","year":2027,"url":"https://cdn.example.com/tcs.txt"},
				{"status":"Upcoming","quarter":"Q3","year":2027,"event_time":"2027-01-10T10:00:00Z"},
				{"status":"withdrawn","quarter":"Q1","year":2027}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	items, err := client.FetchItems(context.Background(), "TCS")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Bearer secret", auth)

	assert.Equal(t, domain.CheckAvailable, items[0].Status)
	assert.Equal(t, domain.Period{Quarter: "Q2", Year: 2027}, items[0].Period)
	assert.Equal(t, "https://cdn.example.com/tcs.txt", items[0].SourceURL)

	assert.Equal(t, domain.CheckUpcoming, items[1].Status)
	require.NotNil(t, items[1].EventTime)
	assert.Equal(t, time.Date(2027, 1, 10, 10, 0, 0, 0, time.UTC), items[1].EventTime.UTC())

	items, err = client.FetchItems(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "forbidden", status: http.StatusForbidden, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).FetchItems(context.Background(), "TCS")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestClient_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 10; i++ {
		_, err := client.FetchItems(context.Background(), "TCS")
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestClient_FetchText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><head><style>p{}</style></head><body>
				<nav>Home | About</nav>
				<h1>Q2 FY27   earnings call</h1>
				<p>Revenue grew <b>12%</b>.</p>
				<script>track()</script>
			</body></html>`))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("  Operator: welcome.\n"))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.7"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	text, err := client.FetchText(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Q2 FY27 earnings call\nRevenue grew 12%.", text)

	text, err = client.FetchText(context.Background(), server.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "Operator: welcome.", text)

	_, err = client.FetchText(context.Background(), server.URL+"/pdf")
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))

	_, err = client.FetchText(context.Background(), server.URL+"/missing")
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}
