package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/consistency"
	"github.com/streamguard/streamguard/internal/facts"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func event(decision facts.Decision, source audit.Source, risk int, consistent bool) *Event {
	return &Event{Type: EventJudgment, Timestamp: time.Now(), Data: Judgment{
		TransactionID: "tx_1",
		Decision:      decision,
		Source:        source,
		RiskScore:     risk,
		Consistent:    consistent,
	}}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func subscribe(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: h, send: make(chan []byte, 256), sub: sub}
	h.register <- client
	return client
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return Event{}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{}

	if !h.shouldSend(client, event(facts.DecisionSafe, audit.SourceEngine, 5, true)) {
		t.Error("empty subscription should receive every event")
	}
}

func TestShouldSend_DecisionFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Decisions: []facts.Decision{facts.DecisionBlock, facts.DecisionSafe}}}

	if !h.shouldSend(client, event(facts.DecisionBlock, audit.SourceEngine, 90, true)) {
		t.Error("should receive BLOCK")
	}
	if h.shouldSend(client, event(facts.DecisionEscalate, audit.SourceEngine, 50, true)) {
		t.Error("should NOT receive ESCALATE_TO_HUMAN")
	}
	// APPROVE from an external reasoner is SAFE.
	if !h.shouldSend(client, event(facts.DecisionApprove, audit.SourceExternal, 10, true)) {
		t.Error("APPROVE should match a SAFE filter")
	}
}

func TestShouldSend_SourceAndTransactionFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		Sources:        []audit.Source{audit.SourceExternal},
		TransactionIDs: []string{"tx_1"},
	}}

	if !h.shouldSend(client, event(facts.DecisionSafe, audit.SourceExternal, 10, true)) {
		t.Error("should receive external judgment for tx_1")
	}
	if h.shouldSend(client, event(facts.DecisionSafe, audit.SourceEngine, 10, true)) {
		t.Error("should NOT receive engine judgment")
	}

	other := event(facts.DecisionSafe, audit.SourceExternal, 10, true)
	other.Data.TransactionID = "tx_2"
	if h.shouldSend(client, other) {
		t.Error("should NOT receive other transactions")
	}
}

func TestShouldSend_RiskAndConsistency(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinRiskScore: 70, InconsistentOnly: true}}

	if h.shouldSend(client, event(facts.DecisionSafe, audit.SourceExternal, 90, true)) {
		t.Error("consistent judgment should be filtered")
	}
	if h.shouldSend(client, event(facts.DecisionSafe, audit.SourceExternal, 40, false)) {
		t.Error("low-risk judgment should be filtered")
	}
	if !h.shouldSend(client, event(facts.DecisionSafe, audit.SourceExternal, 90, false)) {
		t.Error("high-risk disagreement should pass")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connected_clients"].(int) != 0 {
		t.Errorf("expected 0 connected clients, got %v", stats["connected_clients"])
	}
	if stats["total_events"].(int64) != 0 {
		t.Errorf("expected 0 total events, got %v", stats["total_events"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := startHub(t)
	client := subscribe(t, h, Subscription{})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connected_clients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connected_clients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connected_clients"].(int) != 0 {
		t.Errorf("expected 0 connected clients after unregister, got %v", stats["connected_clients"])
	}
	if stats["peak_clients"].(int64) != 1 {
		t.Errorf("expected peak still 1, got %v", stats["peak_clients"])
	}
}

func TestHub_PublishEngineEntry(t *testing.T) {
	h := startHub(t)
	client := subscribe(t, h, Subscription{})

	inv := &facts.InvestigationReport{TransactionID: "tx_fraud", RiskScore: 95}
	judgment := &facts.JudgmentDecision{TransactionID: "tx_fraud", Decision: facts.DecisionBlock, PolicyApplied: 1, Confidence: 97}
	entry := audit.NewEntry(audit.SourceEngine, inv, judgment, nil)
	h.Publish(entry)

	ev := receive(t, client)
	if ev.Type != EventJudgment {
		t.Errorf("expected judgment event, got %s", ev.Type)
	}
	if ev.Data.ID != entry.ID || ev.Data.Decision != facts.DecisionBlock || ev.Data.RiskScore != 95 {
		t.Errorf("unexpected payload: %+v", ev.Data)
	}
}

func TestHub_PublishExternalEntry(t *testing.T) {
	h := startHub(t)
	client := subscribe(t, h, Subscription{InconsistentOnly: true})

	inv := &facts.InvestigationReport{TransactionID: "tx_fraud", RiskScore: 95}
	judgment := &facts.JudgmentDecision{TransactionID: "tx_fraud", Decision: facts.DecisionSafe, PolicyApplied: 3}
	report := &consistency.Report{
		TransactionID: "tx_fraud",
		Discrepancies: []consistency.Discrepancy{{Kind: consistency.KindDecisionMismatch, Severity: consistency.SeverityWarning}},
	}
	h.Publish(audit.NewEntry(audit.SourceExternal, inv, judgment, report))

	ev := receive(t, client)
	if ev.Type != EventValidation {
		t.Errorf("expected validation event, got %s", ev.Type)
	}
	if ev.Data.Consistent || ev.Data.Discrepancies != 1 {
		t.Errorf("unexpected payload: %+v", ev.Data)
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := startHub(t)
	client := subscribe(t, h, Subscription{Decisions: []facts.Decision{facts.DecisionBlock}})

	h.Broadcast(event(facts.DecisionSafe, audit.SourceEngine, 5, true))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("client should NOT receive SAFE event")
	default:
	}

	h.Broadcast(event(facts.DecisionBlock, audit.SourceEngine, 95, true))
	if ev := receive(t, client); ev.Data.Decision != facts.DecisionBlock {
		t.Errorf("expected BLOCK, got %s", ev.Data.Decision)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Narrow the feed, then wait for the hub to apply it.
	if err := conn.WriteJSON(Subscription{Decisions: []facts.Decision{facts.DecisionBlock}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.Broadcast(event(facts.DecisionSafe, audit.SourceEngine, 5, true))
	h.Broadcast(event(facts.DecisionBlock, audit.SourceEngine, 95, true))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Data.Decision != facts.DecisionBlock {
		t.Errorf("expected first delivered event to be BLOCK, got %s", ev.Data.Decision)
	}
}

func TestHub_RejectsAfterStop(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	req := httptest.NewRequest("GET", "/v1/feed", nil)
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, req)
	if w.Code != 503 {
		t.Errorf("expected 503 after stop, got %d", w.Code)
	}
}
