package remix

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"remix-studio-go/internal/logger"
)

// DefaultPollInterval is the delay between consecutive status queries.
const DefaultPollInterval = 3 * time.Second

// session represents one polling run. Its context doubles as the liveness
// flag: a late response from a canceled session is never delivered.
type session struct {
	cancel context.CancelFunc
}

// Poller drives polling sessions for remote jobs. At most one session is
// active per Poller; starting a new one cancels the previous session.
type Poller struct {
	client   *Client
	interval time.Duration
	log      *logrus.Logger

	mu     sync.Mutex
	active *session
}

// NewPoller creates a new Poller instance. A non-positive interval falls
// back to DefaultPollInterval.
func NewPoller(client *Client, interval time.Duration, log *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   client,
		interval: interval,
		log:      log,
	}
}

// Start begins a polling session for the given job: one immediate status
// query, then one per interval. Every snapshot is delivered to onUpdate.
// The session ends on a terminal status, on a snapshot with a non-empty
// error field, or on the first poll error, which is delivered once to
// onError. Polling never resumes on its own after an error.
func (p *Poller) Start(ctx context.Context, predictionID string, onUpdate func(Snapshot), onError func(error)) {
	sctx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel}

	p.mu.Lock()
	if p.active != nil {
		p.active.cancel()
	}
	p.active = sess
	p.mu.Unlock()

	go p.run(sctx, sess, predictionID, onUpdate, onError)
}

// Stop cancels the active polling session, if any. Safe to call repeatedly
// and when no session is active. An in-flight request is not aborted; its
// result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.cancel()
		p.active = nil
	}
}

// Await runs a polling session to completion and returns the terminal
// snapshot. onUpdate, when non-nil, receives every snapshot along the way.
func (p *Poller) Await(ctx context.Context, predictionID string, onUpdate func(Snapshot)) (Snapshot, error) {
	type outcome struct {
		snap Snapshot
		err  error
	}
	done := make(chan outcome, 1)

	p.Start(ctx, predictionID,
		func(snap Snapshot) {
			if onUpdate != nil {
				onUpdate(snap)
			}
			if snap.Done() {
				done <- outcome{snap: snap}
			}
		},
		func(err error) {
			done <- outcome{err: err}
		},
	)

	select {
	case <-ctx.Done():
		p.Stop()
		return Snapshot{}, ctx.Err()
	case o := <-done:
		return o.snap, o.err
	}
}

func (p *Poller) run(ctx context.Context, sess *session, predictionID string, onUpdate func(Snapshot), onError func(error)) {
	defer p.finish(sess)

	log := logger.WithJob(p.log, predictionID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		snap, err := p.client.PollOnce(ctx, predictionID)
		if ctx.Err() != nil {
			// Session canceled while the request was in flight.
			log.Debug("polling session canceled, discarding result")
			return
		}
		if err != nil {
			log.WithError(err).Warn("status query failed, ending polling session")
			onError(err)
			return
		}

		onUpdate(*snap)

		if snap.Done() {
			log.WithField("status", snap.Status).Info("job reached terminal state")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finish cancels the session context and clears the active slot, unless a
// newer session has already replaced it.
func (p *Poller) finish(sess *session) {
	sess.cancel()
	p.mu.Lock()
	if p.active == sess {
		p.active = nil
	}
	p.mu.Unlock()
}
