package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/pos"
	"tillsync/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeBackend scripts Insert responses per entity ID and records the
// transmission order.
type fakeBackend struct {
	inserts  []insertCall
	failWith map[string]error           // entity ID -> error
	respond  map[string]json.RawMessage // entity ID -> server copy
}

type insertCall struct {
	entityType string
	payload    json.RawMessage
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failWith: make(map[string]error),
		respond:  make(map[string]json.RawMessage),
	}
}

func (f *fakeBackend) Ping(context.Context) error { return nil }

func (f *fakeBackend) FetchChangedSince(context.Context, string, string) ([]backend.ChangedRecord, error) {
	return nil, nil
}

func (f *fakeBackend) Insert(_ context.Context, entityType string, payload []byte) (json.RawMessage, error) {
	f.inserts = append(f.inserts, insertCall{entityType: entityType, payload: append([]byte(nil), payload...)})
	id := pos.EntityIDOf(payload)
	if err, ok := f.failWith[id]; ok {
		return nil, err
	}
	if resp, ok := f.respond[id]; ok {
		return resp, nil
	}
	return payload, nil
}

func (f *fakeBackend) Update(_ context.Context, _, _ string, payload []byte) (json.RawMessage, error) {
	return payload, nil
}

func (f *fakeBackend) Fetch(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeBackend) FetchReport(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type fakeSink struct {
	rejections []string // queue item IDs
}

func (s *fakeSink) HandleRejection(_ context.Context, item *store.QueueItem, _ *backend.RemoteError) error {
	s.rejections = append(s.rejections, item.ID)
	return nil
}

type fakeEmitter struct {
	synced  []string
	failed  []string
	drained int
}

func (e *fakeEmitter) EmitQueueItemEnqueued(string, string) {}
func (e *fakeEmitter) EmitQueueItemSynced(itemID, _ string) { e.synced = append(e.synced, itemID) }
func (e *fakeEmitter) EmitQueueItemFailed(itemID, _ string, _ int, _ string) {
	e.failed = append(e.failed, itemID)
}
func (e *fakeEmitter) EmitQueueDrained(int, int) { e.drained++ }

func newTestProcessor(t *testing.T, db *store.DB, remote backend.Client) (*Processor, *fakeSink, *fakeEmitter) {
	t.Helper()
	sink := &fakeSink{}
	emitter := &fakeEmitter{}
	p := NewProcessor(db, remote, sink, emitter, config.QueueConfig{
		Capacity:    500,
		MaxAttempts: 5,
	})
	return p, sink, emitter
}

func TestDrainTypeOrdering(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	p, _, emitter := newTestProcessor(t, db, fb)

	// Enqueued out of rank order: payment and stock before the order.
	p.Enqueue(pos.TypePayment, []byte(`{"id":"p-1","order_id":"o-1"}`))
	p.Enqueue(pos.TypeStockMovement, []byte(`{"id":"m-1","product_id":"prod-1"}`))
	p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-1","order_number":"1001"}`))

	synced, failed, err := p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if synced != 3 || failed != 0 {
		t.Fatalf("synced=%d failed=%d, want 3/0", synced, failed)
	}

	wantOrder := []string{pos.TypeOrder, pos.TypePayment, pos.TypeStockMovement}
	if len(fb.inserts) != 3 {
		t.Fatalf("inserts = %d, want 3", len(fb.inserts))
	}
	for i, call := range fb.inserts {
		if call.entityType != wantOrder[i] {
			t.Errorf("insert[%d] = %s, want %s", i, call.entityType, wantOrder[i])
		}
	}
	if emitter.drained != 1 {
		t.Errorf("drained emissions = %d, want 1", emitter.drained)
	}
}

func TestDrainPreservesCreationOrderWithinType(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	p, _, _ := newTestProcessor(t, db, fb)

	p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-1"}`))
	p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-2"}`))
	p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-3"}`))

	p.ProcessQueue(context.Background())

	for i, want := range []string{"o-1", "o-2", "o-3"} {
		if got := pos.EntityIDOf(fb.inserts[i].payload); got != want {
			t.Errorf("insert[%d] id = %s, want %s", i, got, want)
		}
	}
}

func TestDrainRemapsServerIDs(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	// Server assigns its own ID for the offline-created order.
	fb.respond["local-o1"] = json.RawMessage(`{"id":"srv-100"}`)
	p, _, _ := newTestProcessor(t, db, fb)

	p.Enqueue(pos.TypeOrder, []byte(`{"id":"local-o1","order_number":"1001"}`))
	p.Enqueue(pos.TypePayment, []byte(`{"id":"p-1","order_id":"local-o1","amount":9.5}`))

	p.ProcessQueue(context.Background())

	if len(fb.inserts) != 2 {
		t.Fatalf("inserts = %d, want 2", len(fb.inserts))
	}
	var payment pos.PaymentPayload
	if err := json.Unmarshal(fb.inserts[1].payload, &payment); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if payment.OrderID != "srv-100" {
		t.Errorf("payment order_id = %s, want srv-100 (remapped)", payment.OrderID)
	}
}

func TestDrainRoutesStructuralRejectionToConflict(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	fb.failWith["o-dup"] = &backend.RemoteError{Kind: backend.KindDuplicate, Message: "duplicate key value violates unique constraint"}
	p, sink, emitter := newTestProcessor(t, db, fb)

	item, _ := p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-dup"}`))

	synced, failed, _ := p.ProcessQueue(context.Background())
	if synced != 0 || failed != 1 {
		t.Fatalf("synced=%d failed=%d, want 0/1", synced, failed)
	}
	if len(sink.rejections) != 1 || sink.rejections[0] != item.ID {
		t.Fatalf("rejections = %v, want [%s]", sink.rejections, item.ID)
	}
	if len(emitter.failed) != 1 {
		t.Errorf("failed emissions = %d, want 1", len(emitter.failed))
	}

	got, _ := db.GetQueueItem(item.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed (never blind-retried)", got.Status)
	}
}

func TestDrainRetriesTransientWithBackoff(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	fb.failWith["o-1"] = &backend.RemoteError{Kind: backend.KindUnavailable, Message: "503"}
	p, sink, _ := newTestProcessor(t, db, fb)

	item, _ := p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-1"}`))

	p.ProcessQueue(context.Background())

	got, _ := db.GetQueueItem(item.ID)
	if got.Status != store.StatusPending {
		t.Fatalf("Status = %q, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.After(time.Now().Add(-time.Second)) {
		t.Error("NextAttemptAt should be in the future")
	}
	if len(sink.rejections) != 0 {
		t.Error("transient failures must not create conflicts")
	}

	// Still throttled: an immediate re-drain skips it.
	if _, _, err := p.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("re-drain: %v", err)
	}
	got, _ = db.GetQueueItem(item.ID)
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d after throttled re-drain, want 1", got.Attempts)
	}
}

func TestDrainExhaustsAttempts(t *testing.T) {
	db := testDB(t)
	fb := newFakeBackend()
	fb.failWith["o-1"] = &backend.RemoteError{Kind: backend.KindTimeout, Message: "deadline"}
	sink := &fakeSink{}
	emitter := &fakeEmitter{}
	p := NewProcessor(db, fb, sink, emitter, config.QueueConfig{Capacity: 500, MaxAttempts: 2})

	item, _ := p.Enqueue(pos.TypeOrder, []byte(`{"id":"o-1"}`))

	// First attempt: retry scheduled.
	p.ProcessQueue(context.Background())
	// Clear the backoff window and drain again: attempts exhausted.
	db.MarkQueueItemRetry(item.ID, "deadline", time.Now().Add(-time.Minute))
	got, _ := db.GetQueueItem(item.ID)
	if got.Attempts != 2 {
		t.Fatalf("setup attempts = %d, want 2", got.Attempts)
	}
	p.ProcessQueue(context.Background())

	got, _ = db.GetQueueItem(item.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed after max attempts", got.Status)
	}
	if len(sink.rejections) != 0 {
		t.Error("exhausted transient failures are not conflicts")
	}
}

func TestBackoffLadder(t *testing.T) {
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
		time.Minute,
		5 * time.Minute,
		5 * time.Minute, // clamped
	}
	for attempts, expected := range want {
		if got := backoffDelay(attempts); got != expected {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempts, got, expected)
		}
	}
}
