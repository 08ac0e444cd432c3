package address

import (
	"errors"
	"testing"
)

const (
	testTelemetryTemplate = "smartgarden/area1/node/+/data"
	testCommandPattern    = "smartgarden/area1/node/+/pump"
)

func TestDefault_AddressesDistinct(t *testing.T) {
	table := Default()
	if table.Len() != MaxNodes {
		t.Fatalf("Len() = %d, want %d", table.Len(), MaxNodes)
	}

	seen := map[RadioAddress]NodeID{table.GatewayAddress(): 0}
	for id := NodeID(1); id <= MaxNodes; id++ {
		addr, err := table.AddressFor(id)
		if err != nil {
			t.Fatalf("AddressFor(%d) error = %v", id, err)
		}
		if other, dup := seen[addr]; dup {
			t.Errorf("AddressFor(%d) = %s, already used by %d", id, addr, other)
		}
		seen[addr] = id
	}

	addr, _ := table.AddressFor(2)
	if addr.String() != "2NODE" {
		t.Errorf("AddressFor(2) = %s, want 2NODE", addr)
	}
	if table.GatewayAddress().String() != "GATWY" {
		t.Errorf("GatewayAddress() = %s, want GATWY", table.GatewayAddress())
	}
}

func TestAddressFor_OutOfRange(t *testing.T) {
	table := Default()
	for _, id := range []NodeID{0, 6, 7, 255} {
		if _, err := table.AddressFor(id); !errors.Is(err, ErrUnknownNode) {
			t.Errorf("AddressFor(%d) error = %v, want ErrUnknownNode", id, err)
		}
	}
}

func TestTopicRoundTrip(t *testing.T) {
	table := Default()
	for id := NodeID(1); id <= MaxNodes; id++ {
		topic, err := table.TopicFor(id, testTelemetryTemplate)
		if err != nil {
			t.Fatalf("TopicFor(%d) error = %v", id, err)
		}

		got, err := table.NodeIDFromTopic(topic, testTelemetryTemplate)
		if err != nil {
			t.Fatalf("NodeIDFromTopic(%q) error = %v", topic, err)
		}
		if got != id {
			t.Errorf("NodeIDFromTopic(TopicFor(%d)) = %d", id, got)
		}
	}
}

func TestTopicRoundTrip_NodeInPrefix(t *testing.T) {
	table := Default()
	templates := []string{
		"garden/plantnode/node/+/data",
		"smartgarden/node/area1/node/+/pump",
		"nodes/+/cmd",
	}

	for _, tmpl := range templates {
		for _, id := range table.Nodes() {
			topic, err := table.TopicFor(id, tmpl)
			if err != nil {
				t.Fatalf("TopicFor(%d, %q) error = %v", id, tmpl, err)
			}
			got, err := table.NodeIDFromTopic(topic, tmpl)
			if err != nil {
				t.Fatalf("NodeIDFromTopic(%q, %q) error = %v", topic, tmpl, err)
			}
			if got != id {
				t.Errorf("NodeIDFromTopic(%q, %q) = %d, want %d", topic, tmpl, got, id)
			}
		}
	}
}

func TestTopicFor(t *testing.T) {
	table := Default()

	tests := []struct {
		name     string
		id       NodeID
		template string
		want     string
		wantErr  error
	}{
		{"telemetry", 3, testTelemetryTemplate, "smartgarden/area1/node/3/data", nil},
		{"first placeholder only", 1, "a/+/b/+", "a/1/b/+", nil},
		{"no placeholder", 1, "smartgarden/area1/node/data", "", ErrInvalidTemplate},
		{"unknown node", 6, testTelemetryTemplate, "", ErrUnknownNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.TopicFor(tt.id, tt.template)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TopicFor() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TopicFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNodeIDFromTopic(t *testing.T) {
	table := Default()

	tests := []struct {
		name    string
		topic   string
		pattern string
		want    NodeID
		wantErr bool
	}{
		{"command", "smartgarden/area1/node/2/pump", testCommandPattern, 2, false},
		{"no pattern", "anything/node/5/valve", "", 5, false},
		{"last segment", "garden/node/4", "", 4, false},
		{"zero", "smartgarden/area1/node/0/pump", testCommandPattern, 0, true},
		{"above max", "smartgarden/area1/node/6/pump", testCommandPattern, 0, true},
		{"overflow", "smartgarden/area1/node/300/pump", testCommandPattern, 0, true},
		{"negative", "smartgarden/area1/node/-1/pump", testCommandPattern, 0, true},
		{"not a number", "smartgarden/area1/node/two/pump", testCommandPattern, 0, true},
		{"empty segment", "smartgarden/area1/node//pump", "", 0, true},
		{"no node segment", "smartgarden/area1/pump", "", 0, true},
		{"pattern mismatch", "smartgarden/area2/node/2/pump", testCommandPattern, 0, true},
		{"node inside earlier level", "garden/plantnode/node/3/data", "garden/plantnode/node/+/data", 3, false},
		{"node level repeated", "smartgarden/node/area1/node/2/pump", "smartgarden/node/area1/node/+/pump", 2, false},
		{"placeholder not after node", "garden/4/relay", "garden/+/relay", 4, false},
		{"no pattern node suffix", "garden/plantnode/3/data", "", 0, true},
		{"no pattern leading node", "node/1/pump", "", 1, false},
		{"node is last level", "garden/node", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.NodeIDFromTopic(tt.topic, tt.pattern)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownNode) {
					t.Fatalf("NodeIDFromTopic() error = %v, want ErrUnknownNode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NodeIDFromTopic() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NodeIDFromTopic() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d", false},
		{"a/+/c", "a/b/c/d", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/#", "b/c", false},
		{"#", "x/y", true},
		{"a/b", "a/b", true},
		{"a/b/c", "a/b", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	gw, _ := ParseRadioAddress("GATWY")
	a1, _ := ParseRadioAddress("1NODE")

	if _, err := New(nil, gw); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("New(no nodes) error = %v, want ErrInvalidAddress", err)
	}
	if _, err := New([]RadioAddress{a1, a1}, gw); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("New(duplicate) error = %v, want ErrInvalidAddress", err)
	}
	if _, err := New([]RadioAddress{gw}, gw); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("New(node == gateway) error = %v, want ErrInvalidAddress", err)
	}
	six := make([]RadioAddress, MaxNodes+1)
	for i := range six {
		six[i] = RadioAddress{'N', 'O', 'D', 'E', byte('0' + i)}
	}
	if _, err := New(six, gw); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("New(6 nodes) error = %v, want ErrInvalidAddress", err)
	}
	if _, err := ParseRadioAddress("TOO-LONG"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseRadioAddress(TOO-LONG) error = %v, want ErrInvalidAddress", err)
	}
}

func TestSmallTable_Range(t *testing.T) {
	table, err := FromStrings([]string{"AAAAA", "BBBBB"}, "GGGGG")
	if err != nil {
		t.Fatalf("FromStrings() error = %v", err)
	}

	if _, err := table.AddressFor(3); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("AddressFor(3) error = %v, want ErrUnknownNode", err)
	}
	if _, err := table.NodeIDFromTopic("g/node/3/pump", ""); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("NodeIDFromTopic(node 3) error = %v, want ErrUnknownNode", err)
	}

	pipes := table.Pipes()
	if len(pipes) != 2 || pipes[1].Number != 2 || pipes[1].Node != 2 || pipes[1].Address.String() != "BBBBB" {
		t.Errorf("Pipes() = %+v", pipes)
	}
	if id, ok := table.NodeForPipe(1); !ok || id != 1 {
		t.Errorf("NodeForPipe(1) = %d, %v", id, ok)
	}
	if _, ok := table.NodeForPipe(0); ok {
		t.Error("NodeForPipe(0) ok = true, want false")
	}
}

func TestRadioAddress_StringNonPrintable(t *testing.T) {
	a := RadioAddress{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}
	if got := a.String(); got != "e7e7e7e7e7" {
		t.Errorf("String() = %q, want e7e7e7e7e7", got)
	}
}
