package gateway

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/packet"
	"github.com/ImGhostCode/smart-garden/internal/radio"
	"github.com/ImGhostCode/smart-garden/internal/radio/radiotest"
)

type publishedMsg struct {
	topic   string
	payload []byte
}

// mockSession is a scripted MQTT session. events records the order of
// reconnects and publish attempts.
type mockSession struct {
	mu           sync.Mutex
	connected    bool
	reconnectErr error
	publishErr   error
	handler      mqtt.MessageHandler
	inbox        []mqtt.Message
	published    []publishedMsg
	statuses     []mqtt.StatusMessage
	events       []string
}

func (m *mockSession) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockSession) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "reconnect")
	if m.reconnectErr != nil {
		return m.reconnectErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.connected = true
	return nil
}

func (m *mockSession) Loop() int {
	m.mu.Lock()
	msgs := m.inbox
	m.inbox = nil
	h := m.handler
	m.mu.Unlock()

	for _, msg := range msgs {
		_ = h(msg.Topic, msg.Payload)
	}
	return len(msgs)
}

func (m *mockSession) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		m.events = append(m.events, "publish-while-disconnected")
		return mqtt.ErrSessionLost
	}
	m.events = append(m.events, "publish")
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedMsg{topic, append([]byte(nil), payload...)})
	return nil
}

func (m *mockSession) PublishStatus(msg mqtt.StatusMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, msg)
	return nil
}

func (m *mockSession) SetCommandHandler(h mqtt.MessageHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *mockSession) queue(topic, payload string) {
	m.mu.Lock()
	m.inbox = append(m.inbox, mqtt.Message{Topic: topic, Payload: []byte(payload)})
	m.mu.Unlock()
}

func (m *mockSession) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockSession) publishes() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMsg(nil), m.published...)
}

func (m *mockSession) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu       sync.Mutex
	readings []Reading
	commands []CommandEvent
}

func (s *recordingSink) OnReading(_ context.Context, r Reading) error {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) OnCommand(_ context.Context, ev CommandEvent) error {
	s.mu.Lock()
	s.commands = append(s.commands, ev)
	s.mu.Unlock()
	return nil
}

var testTopics = config.MQTTTopicsConfig{
	Command:      "smartgarden/area1/node/+/pump",
	Telemetry:    "smartgarden/area1/node/+/data",
	StatusPrefix: "smartgarden/area1",
}

type testRig struct {
	air     *radiotest.Air
	gwRadio *radiotest.Radio
	session *mockSession
	gateway *Gateway
	sink    *recordingSink
	table   *address.Table
	now     time.Time
}

func newRig(t *testing.T, radioCfg radio.Config, health time.Duration) *testRig {
	t.Helper()

	rig := &testRig{
		air:     radiotest.NewAir(),
		session: &mockSession{connected: true},
		sink:    &recordingSink{},
		table:   address.Default(),
		now:     time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	rig.gwRadio = rig.air.NewRadio("gateway")

	tr := radio.NewTransport(rig.gwRadio, rig.table, radioCfg)
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	bridge := NewBridge(rig.session, tr, rig.table, testTopics, nil)
	rig.gateway = New(Config{
		GatewayID:      "gw-test",
		HealthInterval: health,
		Now:            func() time.Time { return rig.now },
	}, bridge, nil)
	rig.gateway.AddSink(rig.sink)
	return rig
}

// node attaches a node radio that listens on its own address.
func (r *testRig) node(t *testing.T, id address.NodeID) *radiotest.Radio {
	t.Helper()
	ctx := context.Background()
	addr, err := r.table.AddressFor(id)
	if err != nil {
		t.Fatalf("AddressFor(%d) error = %v", id, err)
	}
	n := r.air.NewRadio("node" + id.String())
	if err := n.Begin(ctx); err != nil {
		t.Fatalf("node Begin() error = %v", err)
	}
	_ = n.OpenReadingPipe(1, addr)
	_ = n.StartListening()
	return n
}

// transmit sends payload from node id the way the firmware does.
func (r *testRig) transmit(t *testing.T, n *radiotest.Radio, id address.NodeID, payload []byte) {
	t.Helper()
	addr, _ := r.table.AddressFor(id)
	_ = n.StopListening()
	_ = n.OpenWritingPipe(addr)
	acked, err := n.Write(context.Background(), payload)
	if err != nil || !acked {
		t.Fatalf("node Write() = %v, %v", acked, err)
	}
	_ = n.StartListening()
}

func TestStep_CommandReachesNode(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 2)

	rig.session.queue("smartgarden/area1/node/2/pump", "ON")
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	txs := rig.air.Transmissions()
	if len(txs) != 1 {
		t.Fatalf("%d transmissions, want 1", len(txs))
	}
	if txs[0].To.String() != "2NODE" || !txs[0].Acked {
		t.Errorf("transmission to %s acked=%v", txs[0].To, txs[0].Acked)
	}
	if !bytes.HasPrefix(txs[0].Payload, []byte("ON\x00")) {
		t.Errorf("payload = %q, want ON\\x00", txs[0].Payload[:4])
	}

	buf := make([]byte, radio.MaxPayloadSize)
	if _, err := node.Read(buf); err != nil {
		t.Fatalf("node Read() error = %v", err)
	}
	if got := packet.DecodeCommand(buf); got != packet.CommandOn {
		t.Errorf("node decoded %q, want ON", got)
	}

	if !rig.gwRadio.Listening() {
		t.Error("gateway not listening after command")
	}
	if len(rig.sink.commands) != 1 || rig.sink.commands[0].Status != CommandSent || rig.sink.commands[0].Node != 2 {
		t.Errorf("command events = %+v", rig.sink.commands)
	}
	if s := rig.gateway.Bridge().CommandStats(); s.Sent != 1 {
		t.Errorf("CommandStats() = %+v", s)
	}
}

func TestHandleCommand_Rejected(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	bridge := rig.gateway.Bridge()

	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"node out of range", "smartgarden/area1/node/7/pump", "ON", address.ErrUnknownNode},
		{"node zero", "smartgarden/area1/node/0/pump", "ON", address.ErrUnknownNode},
		{"not a number", "smartgarden/area1/node/two/pump", "ON", address.ErrUnknownNode},
		{"foreign topic", "otherhome/node/1/pump", "ON", address.ErrUnknownNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := bridge.HandleCommand(tt.topic, []byte(tt.payload)); !errors.Is(err, tt.want) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.want)
			}
		})
	}

	if n := len(rig.air.Transmissions()); n != 0 {
		t.Errorf("%d transmissions, want 0", n)
	}
	if s := bridge.CommandStats(); s.Rejected != uint64(len(tests)) {
		t.Errorf("Rejected = %d, want %d", s.Rejected, len(tests))
	}
	for _, ev := range rig.sink.commands {
		if ev.Status != CommandRejected || ev.Error == "" {
			t.Errorf("event %+v, want rejected with error", ev)
		}
	}
}

func TestHandleCommand_EmptyPayloadSendsTerminator(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 1)

	if err := rig.gateway.Bridge().HandleCommand("smartgarden/area1/node/1/pump", nil); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	txs := rig.air.Transmissions()
	if len(txs) != 1 || !txs[0].Acked || txs[0].Payload[0] != 0 {
		t.Fatalf("transmissions = %+v, want one acked NUL command", txs)
	}
	buf := make([]byte, radio.MaxPayloadSize)
	if _, err := node.Read(buf); err != nil {
		t.Fatalf("node Read() error = %v", err)
	}
	if got := packet.DecodeCommand(buf); got != "" {
		t.Errorf("node decoded %q, want empty", got)
	}
	if s := rig.gateway.Bridge().CommandStats(); s.Sent != 1 || s.Rejected != 0 {
		t.Errorf("CommandStats() = %+v, want 1 sent", s)
	}
	if len(rig.sink.commands) != 1 || rig.sink.commands[0].Status != CommandSent {
		t.Errorf("command events = %+v", rig.sink.commands)
	}
}

func TestHandleCommand_TruncatesLongText(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	rig.node(t, 1)

	if err := rig.gateway.Bridge().HandleCommand("smartgarden/area1/node/1/pump", []byte("TOGGLE-NOW")); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	txs := rig.air.Transmissions()
	if len(txs) != 1 || !bytes.HasPrefix(txs[0].Payload, []byte("TOGGLE-\x00")) {
		t.Fatalf("transmissions = %+v", txs)
	}
}

func TestStep_PublishesTelemetry(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 3)

	rec := packet.Telemetry{NodeID: 3, Temperature: 24.5, Humidity: 61.0, LDR: 512, Soil: 300}
	rig.transmit(t, node, 3, packet.EncodeTelemetry(rec))

	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	pubs := rig.session.publishes()
	if len(pubs) != 1 {
		t.Fatalf("%d publishes, want 1", len(pubs))
	}
	if pubs[0].topic != "smartgarden/area1/node/3/data" {
		t.Errorf("topic = %q", pubs[0].topic)
	}
	want := `{"node_id":3,"temperature":24.5,"humidity":61,"ldr":512,"soil":300}`
	if string(pubs[0].payload) != want {
		t.Errorf("payload = %s, want %s", pubs[0].payload, want)
	}

	if len(rig.sink.readings) != 1 {
		t.Fatalf("%d readings delivered to sink, want 1", len(rig.sink.readings))
	}
	r := rig.sink.readings[0]
	if r.Node != 3 || r.Pipe != 3 || !r.Published || !r.ReceivedAt.Equal(rig.now) {
		t.Errorf("reading = %+v", r)
	}
	if r.Telemetry != rec {
		t.Errorf("telemetry = %+v, want %+v", r.Telemetry, rec)
	}
}

func TestStep_FailedSendRestoresListening(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node3 := rig.node(t, 3)

	// Node 4 is not powered, so the command is never acknowledged.
	rig.session.queue("smartgarden/area1/node/4/pump", "ON")
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(rig.sink.commands) != 1 || rig.sink.commands[0].Status != CommandFailed {
		t.Fatalf("command events = %+v, want one failed", rig.sink.commands)
	}
	if !rig.gwRadio.Listening() {
		t.Fatal("gateway not listening after failed send")
	}

	rig.transmit(t, node3, 3, packet.EncodeTelemetry(packet.Telemetry{NodeID: 3, Temperature: 20, Humidity: 50}))
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if pubs := rig.session.publishes(); len(pubs) != 1 || pubs[0].topic != "smartgarden/area1/node/3/data" {
		t.Errorf("publishes = %+v", pubs)
	}
}

func TestStep_ReconnectsBeforePublishing(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 1)

	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	// The broker goes away mid-run while a reading is in flight.
	rig.session.setConnected(false)
	rig.transmit(t, node, 1, packet.EncodeTelemetry(packet.Telemetry{NodeID: 1}))

	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	events := rig.session.eventLog()
	want := []string{"reconnect", "publish"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	if s := rig.gateway.Stats(); s.Reconnects != 1 || s.Published != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestStep_ReconnectCancelled(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 1)
	rig.session.setConnected(false)
	rig.session.reconnectErr = context.Canceled
	rig.transmit(t, node, 1, packet.EncodeTelemetry(packet.Telemetry{NodeID: 1}))

	if err := rig.gateway.Step(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Step() error = %v, want context.Canceled", err)
	}
	if rig.gwRadio.Pending() != 1 {
		t.Errorf("radio polled while session was down")
	}
}

func TestStep_DropsMalformedPacket(t *testing.T) {
	cfg := radio.DefaultConfig()
	cfg.PayloadSize = 8
	rig := newRig(t, cfg, 0)
	node := rig.node(t, 2)

	rig.transmit(t, node, 2, packet.EncodeTelemetry(packet.Telemetry{NodeID: 2}))
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if s := rig.gateway.Stats(); s.Malformed != 1 || s.Readings != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if n := len(rig.session.publishes()); n != 0 {
		t.Errorf("%d publishes, want 0", n)
	}
}

func TestStep_DropsUnknownNode(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 5)

	rig.transmit(t, node, 5, packet.EncodeTelemetry(packet.Telemetry{NodeID: 9}))
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if s := rig.gateway.Stats(); s.UnknownNode != 1 {
		t.Errorf("UnknownNode = %d, want 1", s.UnknownNode)
	}
	if n := len(rig.session.publishes()); n != 0 {
		t.Errorf("%d publishes, want 0", n)
	}
	if len(rig.sink.readings) != 0 {
		t.Errorf("sink got %d readings, want 0", len(rig.sink.readings))
	}
}

func TestStep_PublishFailureStillNotifiesSinks(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	node := rig.node(t, 1)
	rig.session.publishErr = mqtt.ErrPublishFailed

	rig.transmit(t, node, 1, packet.EncodeTelemetry(packet.Telemetry{NodeID: 1, Temperature: 18}))
	if err := rig.gateway.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if len(rig.sink.readings) != 1 || rig.sink.readings[0].Published {
		t.Errorf("readings = %+v, want one unpublished", rig.sink.readings)
	}
	if s := rig.gateway.Stats(); s.PublishFailed != 1 {
		t.Errorf("PublishFailed = %d, want 1", s.PublishFailed)
	}
}

func TestStep_PeriodicHealth(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 30*time.Second)
	ctx := context.Background()

	if err := rig.gateway.Step(ctx); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if n := len(rig.session.statuses); n != 0 {
		t.Fatalf("%d health reports before the interval, want 0", n)
	}

	rig.now = rig.now.Add(30 * time.Second)
	_ = rig.gateway.Step(ctx)
	_ = rig.gateway.Step(ctx)

	if n := len(rig.session.statuses); n != 1 {
		t.Fatalf("%d health reports, want 1", n)
	}
	st := rig.session.statuses[0]
	if st.Status != mqtt.StatusHealthy {
		t.Errorf("status = %q, want healthy", st.Status)
	}
	if st.Details["nodes"] != 5 || st.Details["uptime_seconds"] != int64(30) {
		t.Errorf("details = %v", st.Details)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	rig.gateway.cfg.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rig.gateway.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_DefaultPollsWithoutPause(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	if rig.gateway.cfg.PollInterval != 0 {
		t.Fatalf("PollInterval = %v, want 0", rig.gateway.cfg.PollInterval)
	}
	node := rig.node(t, 4)
	rig.transmit(t, node, 4, packet.EncodeTelemetry(packet.Telemetry{NodeID: 4, LDR: 10, Soil: 20}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rig.gateway.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := len(rig.session.publishes()); n != 1 {
		t.Errorf("%d telemetry publishes, want 1", n)
	}
}

func TestTimeSeriesSink(t *testing.T) {
	w := &recordingWriter{}
	sink := NewTimeSeriesSink(w)
	at := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	_ = sink.OnReading(context.Background(), Reading{Telemetry: packet.Telemetry{NodeID: 2}, ReceivedAt: at})
	_ = sink.OnCommand(context.Background(), CommandEvent{Node: 2, Command: "OFF", Source: SourceAPI, Status: CommandRequested, At: at})

	if len(w.telemetry) != 1 || w.telemetry[0].NodeID != 2 {
		t.Errorf("telemetry = %+v", w.telemetry)
	}
	if len(w.commands) != 1 || w.commands[0] != "2 OFF api requested" {
		t.Errorf("commands = %v", w.commands)
	}
}

type recordingWriter struct {
	telemetry []packet.Telemetry
	commands  []string
}

func (w *recordingWriter) WriteTelemetry(t packet.Telemetry, _ time.Time) {
	w.telemetry = append(w.telemetry, t)
}

func (w *recordingWriter) WriteCommand(nodeID int, command, source, status string, _ time.Time) {
	w.commands = append(w.commands, address.NodeID(nodeID).String()+" "+command+" "+source+" "+status) //nolint:gosec // test ids are small
}

func TestRecordCommand_FansOutWithClock(t *testing.T) {
	rig := newRig(t, radio.DefaultConfig(), 0)
	rig.gwRadio.ResetEvents()

	rig.gateway.RecordCommand(context.Background(), CommandEvent{
		Node: 4, Command: "OFF", Source: SourceAPI, Status: CommandRequested,
	})

	rig.sink.mu.Lock()
	defer rig.sink.mu.Unlock()
	if len(rig.sink.commands) != 1 {
		t.Fatalf("sink commands = %d, want 1", len(rig.sink.commands))
	}
	ev := rig.sink.commands[0]
	if ev.Node != 4 || ev.Source != SourceAPI || !ev.At.Equal(rig.now) {
		t.Errorf("event = %+v", ev)
	}
	if n := len(rig.session.publishes()); n != 0 {
		t.Errorf("publishes = %d, want 0", n)
	}
	if ev := rig.gwRadio.Events(); len(ev) != 0 {
		t.Errorf("radio events = %v, want none", ev)
	}
}
