package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/trackview/trackview-core/internal/infrastructure/config"
)

// fakeTransport is a scripted in-memory connection.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-t.incoming:
		if !ok {
			return nil, errors.New("transport broken")
		}
		return data, nil
	case <-t.done:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, data)
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// deliver queues an inbound frame.
func (t *fakeTransport) deliver(data string) {
	t.incoming <- []byte(data)
}

// breakConn simulates an unexpected close.
func (t *fakeTransport) breakConn() {
	close(t.incoming)
}

// sentMessages decodes all frames written so far.
func (t *fakeTransport) sentMessages(tb testing.TB) []subscribeMessage {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	var msgs []subscribeMessage
	for _, data := range t.writes {
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			tb.Fatalf("unparseable outbound frame %q: %v", data, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// fakeDialer hands out fakeTransports, optionally failing some dials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeTransport
	failNext int
	failAll  bool
}

func (d *fakeDialer) DialContext(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errors.New("dial refused")
	}
	conn := newFakeTransport()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func testConfig() config.ChannelConfig {
	return config.ChannelConfig{
		URL: "ws://localhost/ws",
		// PingInterval 0: keepalive off so writes are deterministic.
		Reconnect: config.ReconnectConfig{
			// BaseDelay 0 keeps reconnect tests fast; production config
			// validation enforces a minimum of one second.
			BaseDelay:   0,
			MaxAttempts: 5,
		},
	}
}

func newTestClient(t *testing.T) (*Client, *fakeDialer) {
	t.Helper()
	client := New(testConfig())
	dialer := &fakeDialer{}
	client.SetDialer(dialer)
	t.Cleanup(client.Disconnect)
	return client, dialer
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnect_ReplaysLedgerOnOpen(t *testing.T) {
	client, dialer := newTestClient(t)

	// Subscribing before the first connect is ledger-only.
	client.Subscribe([]int64{1, 2})
	client.Subscribe([]int64{2, 3})

	if err := client.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	msgs := dialer.conn(0).sentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d outbound messages, want 1", len(msgs))
	}
	if msgs[0].Type != "subscribe" {
		t.Errorf("message type = %q, want subscribe", msgs[0].Type)
	}
	wantIDs := []int64{1, 2, 3}
	if fmt.Sprint(msgs[0].DeviceIDs) != fmt.Sprint(wantIDs) {
		t.Errorf("replayed ids = %v, want %v", msgs[0].DeviceIDs, wantIDs)
	}
}

func TestConnect_EmptyLedgerSendsNothing(t *testing.T) {
	client, dialer := newTestClient(t)

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if msgs := dialer.conn(0).sentMessages(t); len(msgs) != 0 {
		t.Errorf("got %d outbound messages on open with empty ledger, want 0", len(msgs))
	}
}

func TestConnect_DialFailure(t *testing.T) {
	client, dialer := newTestClient(t)
	dialer.failNext = 1

	err := client.Connect(context.Background(), "")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestConnect_WhileConnected(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Connect(context.Background(), ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestSubscribe_SendsWhileOpen(t *testing.T) {
	client, dialer := newTestClient(t)
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.Subscribe([]int64{7})
	client.Unsubscribe([]int64{7})

	msgs := dialer.conn(0).sentMessages(t)
	if len(msgs) != 2 {
		t.Fatalf("got %d outbound messages, want 2", len(msgs))
	}
	if msgs[0].Type != "subscribe" || msgs[1].Type != "unsubscribe" {
		t.Errorf("message types = %q, %q; want subscribe, unsubscribe", msgs[0].Type, msgs[1].Type)
	}
	if len(client.Subscribed()) != 0 {
		t.Errorf("ledger = %v, want empty", client.Subscribed())
	}
}

func TestReconnect_ResubscribesFullLedger(t *testing.T) {
	client, dialer := newTestClient(t)
	client.Subscribe([]int64{1, 2, 3})
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	dialer.conn(0).breakConn()

	waitFor(t, func() bool { return dialer.dialCount() == 2 }, "no reconnect attempt")
	waitFor(t, func() bool { return client.State() == StateConnected }, "client never reopened")

	msgs := dialer.conn(1).sentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d outbound messages after reconnect, want 1", len(msgs))
	}
	wantIDs := []int64{1, 2, 3}
	if fmt.Sprint(msgs[0].DeviceIDs) != fmt.Sprint(wantIDs) {
		t.Errorf("resubscribed ids = %v, want full ledger %v", msgs[0].DeviceIDs, wantIDs)
	}
}

func TestReconnect_StopsAfterMaxAttempts(t *testing.T) {
	client, dialer := newTestClient(t)
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	dialer.mu.Lock()
	dialer.failAll = true
	dialer.mu.Unlock()
	dialer.conn(0).breakConn()

	waitFor(t, func() bool { return client.State() == StateDisconnected }, "backoff never gave up")

	// Settled: no further attempts occur.
	time.Sleep(50 * time.Millisecond)
	if got := client.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected after exhausted attempts", got)
	}

	// An explicit Connect resumes.
	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Errorf("explicit Connect() after exhaustion error = %v", err)
	}
}

func TestDisconnect_ClearsStateAndSuppressesReconnect(t *testing.T) {
	client, dialer := newTestClient(t)
	client.Subscribe([]int64{1, 2})
	var calls int
	client.On(TypePosition, func(Message) { calls++ })
	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.Disconnect()
	client.Disconnect() // idempotent

	if got := client.Subscribed(); len(got) != 0 {
		t.Errorf("ledger after Disconnect = %v, want empty", got)
	}
	if got := client.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}

	// No reconnect fires after a deliberate close.
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Errorf("dial count = %d after Disconnect, want 1", dialer.dialCount())
	}
}

func TestDispatch_ListenersInRegistrationOrder(t *testing.T) {
	client, dialer := newTestClient(t)

	var mu sync.Mutex
	var order []string
	client.On(TypePosition, func(Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	client.On(TypePosition, func(Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	dialer.conn(0).deliver(`{"type":"position","device_id":9,"data":{"timestamp":"2024-05-01T10:00:00","latitude":1.5,"longitude":2.5}}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, "listeners not invoked")

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("invocation order = %v, want [first second]", order)
	}
}

func TestDispatch_TypedPayload(t *testing.T) {
	client, dialer := newTestClient(t)

	got := make(chan *PositionMessage, 1)
	client.On(TypePosition, func(m Message) {
		got <- m.(*PositionMessage)
	})

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	dialer.conn(0).deliver(`{"type":"position","device_id":42,"data":{"timestamp":"2024-05-01T10:00:00+00:00","latitude":51.5,"longitude":-0.12,"battery":80,"is_moving":true}}`)

	select {
	case msg := <-got:
		if msg.DeviceID != 42 {
			t.Errorf("DeviceID = %d, want 42", msg.DeviceID)
		}
		if msg.Data.Latitude == nil || *msg.Data.Latitude != 51.5 {
			t.Errorf("Latitude = %v, want 51.5", msg.Data.Latitude)
		}
		if msg.Data.Speed != nil {
			t.Errorf("Speed = %v, want nil for absent field", msg.Data.Speed)
		}
		if msg.Data.IsMoving == nil || !*msg.Data.IsMoving {
			t.Errorf("IsMoving = %v, want true", msg.Data.IsMoving)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("position message not delivered")
	}
}

func TestDispatch_MalformedMessageDropped(t *testing.T) {
	client, dialer := newTestClient(t)

	got := make(chan Message, 2)
	client.On(TypeAlert, func(m Message) { got <- m })

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := dialer.conn(0)
	conn.deliver(`{not json`)
	conn.deliver(`{"type":"teleport"}`)
	conn.deliver(`{"type":"alert","device_id":5,"alert_type":"geofence_exit","message":"left zone"}`)

	// The valid message after two malformed ones is still delivered to
	// the original registration.
	select {
	case m := <-got:
		alert := m.(*AlertMessage)
		if alert.AlertType != "geofence_exit" {
			t.Errorf("AlertType = %q, want geofence_exit", alert.AlertType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after malformed ones not delivered")
	}

	if got := client.State(); got != StateConnected {
		t.Errorf("State() = %v after malformed message, want connected", got)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	client, dialer := newTestClient(t)

	got := make(chan struct{}, 1)
	client.On(TypePong, func(Message) { panic("listener bug") })
	client.On(TypePong, func(Message) { got <- struct{}{} })

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	dialer.conn(0).deliver(`{"type":"pong"}`)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("listener after panicking listener not invoked")
	}
}

func TestOn_DisposerRemovesExactlyThatListener(t *testing.T) {
	client, dialer := newTestClient(t)

	var mu sync.Mutex
	var calls []string
	removeFirst := client.On(TypePong, func(Message) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
	})
	client.On(TypePong, func(Message) {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
	})

	removeFirst()
	removeFirst() // double-dispose is harmless

	if err := client.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	dialer.conn(0).deliver(`{"type":"pong"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, "remaining listener not invoked")

	mu.Lock()
	defer mu.Unlock()
	if calls[0] != "second" {
		t.Errorf("surviving listener = %q, want second", calls[0])
	}
}
