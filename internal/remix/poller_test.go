package remix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Millisecond

// scriptedServer serves a fixed sequence of status bodies per prediction id,
// repeating the last entry once the script is exhausted.
type scriptedServer struct {
	*httptest.Server
	mu       sync.Mutex
	scripts  map[string][]string
	requests map[string]int
}

func newScriptedServer(scripts map[string][]string) *scriptedServer {
	s := &scriptedServer{
		scripts:  scripts,
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := jsonDecode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		n := s.requests[req.PredictionID]
		s.requests[req.PredictionID] = n + 1
		script := s.scripts[req.PredictionID]
		s.mu.Unlock()
		if n >= len(script) {
			n = len(script) - 1
		}
		fmt.Fprint(w, script[n])
	}))
	return s
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *scriptedServer) count(predictionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[predictionID]
}

func statusBody(status string) string {
	return fmt.Sprintf(`{"data":{"prediction_id":"p","status":%q,"output":null,"error":null}}`, status)
}

func newTestPoller(baseURL string) *Poller {
	return NewPoller(newTestClient(baseURL), testInterval, testLogger())
}

func TestPollingStopsAtTerminalStatus(t *testing.T) {
	srv := newScriptedServer(map[string][]string{
		"job-1": {statusBody("processing"), statusBody("processing"), statusBody("succeeded")},
	})
	defer srv.Close()

	poller := newTestPoller(srv.URL)

	var mu sync.Mutex
	var updates []Status
	snap, err := poller.Await(context.Background(), "job-1", func(s Snapshot) {
		mu.Lock()
		updates = append(updates, s.Status)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, snap.Status)

	mu.Lock()
	assert.Equal(t, []Status{StatusProcessing, StatusProcessing, StatusSucceeded}, updates)
	mu.Unlock()

	// No further request may fire after the terminal snapshot.
	time.Sleep(5 * testInterval)
	assert.Equal(t, 3, srv.count("job-1"))
}

func TestPollingStopsOnErrorField(t *testing.T) {
	srv := newScriptedServer(map[string][]string{
		"job-1": {
			statusBody("processing"),
			`{"data":{"prediction_id":"p","status":"processing","error":"out of credits"}}`,
		},
	})
	defer srv.Close()

	poller := newTestPoller(srv.URL)
	snap, err := poller.Await(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "out of credits", snap.Error)

	time.Sleep(5 * testInterval)
	assert.Equal(t, 2, srv.count("job-1"))
}

func TestPollErrorEndsSession(t *testing.T) {
	var requests int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	poller := newTestPoller(srv.URL)
	_, err := poller.Await(context.Background(), "job-1", nil)

	var pollErr *PollError
	require.ErrorAs(t, err, &pollErr)

	// Polling must not retry past a failed query.
	time.Sleep(5 * testInterval)
	mu.Lock()
	assert.Equal(t, 1, requests)
	mu.Unlock()
}

func TestStartReplacesActiveSession(t *testing.T) {
	srv := newScriptedServer(map[string][]string{
		"job-a": {statusBody("processing")},
		"job-b": {statusBody("processing"), statusBody("succeeded")},
	})
	defer srv.Close()

	poller := newTestPoller(srv.URL)

	done := make(chan Snapshot, 1)
	poller.Start(context.Background(), "job-a", func(Snapshot) {}, func(error) {})
	// Give the first session time to issue at least one poll.
	time.Sleep(3 * testInterval)

	countA := srv.count("job-a")
	require.GreaterOrEqual(t, countA, 1)

	poller.Start(context.Background(), "job-b",
		func(s Snapshot) {
			if s.Done() {
				done <- s
			}
		},
		func(error) {},
	)

	select {
	case snap := <-done:
		assert.Equal(t, StatusSucceeded, snap.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("second session never finished")
	}

	// The first session's timer must be gone: its request count may grow by
	// at most one in-flight poll issued before the replacement.
	time.Sleep(5 * testInterval)
	assert.LessOrEqual(t, srv.count("job-a"), countA+1)
}

func TestStopIsIdempotent(t *testing.T) {
	srv := newScriptedServer(map[string][]string{
		"job-a": {statusBody("processing")},
	})
	defer srv.Close()

	poller := newTestPoller(srv.URL)

	// Safe with no active session.
	poller.Stop()
	poller.Stop()

	poller.Start(context.Background(), "job-a", func(Snapshot) {}, func(error) {})
	time.Sleep(3 * testInterval)
	poller.Stop()
	poller.Stop()

	count := srv.count("job-a")
	time.Sleep(5 * testInterval)
	assert.LessOrEqual(t, srv.count("job-a"), count+1, "no poll may be scheduled after Stop")
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	srv := newScriptedServer(map[string][]string{
		"job-a": {statusBody("processing")},
	})
	defer srv.Close()

	poller := newTestPoller(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(3 * testInterval)
		cancel()
	}()

	_, err := poller.Await(ctx, "job-a", nil)
	require.ErrorIs(t, err, context.Canceled)
}
