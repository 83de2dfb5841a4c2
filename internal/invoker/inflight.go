package invoker

import (
	"context"
	"encoding/json"
)

// inflightCall is one upstream call in progress, shared by every caller
// that arrived with the same cache key before it finished.
type inflightCall struct {
	done chan struct{}
	resp Response
	err  error
}

// joinFlight registers the caller on the in-flight call for key,
// creating it if absent. leader is true for the caller that must
// actually perform the call and resolve it.
func (inv *Invoker) joinFlight(key string) (*inflightCall, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if flight, ok := inv.inflight[key]; ok {
		return flight, false
	}
	flight := &inflightCall{done: make(chan struct{})}
	inv.inflight[key] = flight
	return flight, true
}

func (inv *Invoker) leaveFlight(key string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.inflight, key)
}

// resolve publishes the outcome to all waiters. Must be called exactly
// once, by the leader.
func (f *inflightCall) resolve(resp Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// wait blocks until the leader resolves the call or the waiter's own
// context ends. A waiter cancelled independently gets its own context
// error; a cancelled leader propagates its error to everyone.
func (f *inflightCall) wait(ctx context.Context) (Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func encodeResponse(resp Response) ([]byte, error) {
	// Cached copies never claim cache provenance themselves.
	resp.FromCache = false
	return json.Marshal(resp)
}

func decodeResponse(data []byte, resp *Response) error {
	return json.Unmarshal(data, resp)
}
