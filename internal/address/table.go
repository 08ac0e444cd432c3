package address

import (
	"fmt"
	"strconv"
)

// MaxNodes is the number of node pipes available on the gateway radio.
// Pipe 0 is left to the driver for auto-ack, pipes 1..5 carry one node each.
const MaxNodes = 5

// AddressWidth is the radio address length in bytes.
const AddressWidth = 5

// NodeID identifies a garden node. Valid values are 1..Table.Len().
type NodeID uint8

// String returns the decimal form used in MQTT topics.
func (id NodeID) String() string {
	return strconv.Itoa(int(id))
}

// RadioAddress is a 5-byte pipe address.
type RadioAddress [AddressWidth]byte

// String renders printable addresses as text ("1NODE") and others as hex.
func (a RadioAddress) String() string {
	for _, b := range a {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%x", a[:])
		}
	}
	return string(a[:])
}

// ParseRadioAddress converts a 5 character string into an address.
func ParseRadioAddress(s string) (RadioAddress, error) {
	var a RadioAddress
	if len(s) != AddressWidth {
		return a, fmt.Errorf("%w: %q must be %d bytes", ErrInvalidAddress, s, AddressWidth)
	}
	copy(a[:], s)
	return a, nil
}

// Pipe binds a gateway reading pipe to the node it listens for.
type Pipe struct {
	Number  uint8
	Node    NodeID
	Address RadioAddress
}

// Default addresses flashed into the node and gateway firmware.
var (
	DefaultNodeAddresses = []string{"1NODE", "2NODE", "3NODE", "4NODE", "5NODE"}
	DefaultGateway       = "GATWY"
)

// Table is the static node addressing plan.
type Table struct {
	nodes   []RadioAddress // index 0 is node 1
	gateway RadioAddress
}

// New builds a table. nodes[i] is the address of node i+1.
func New(nodes []RadioAddress, gateway RadioAddress) (*Table, error) {
	if len(nodes) == 0 || len(nodes) > MaxNodes {
		return nil, fmt.Errorf("%w: need 1..%d node addresses, got %d", ErrInvalidAddress, MaxNodes, len(nodes))
	}

	seen := map[RadioAddress]bool{gateway: true}
	for i, a := range nodes {
		if seen[a] {
			return nil, fmt.Errorf("%w: node %d address %s is not unique", ErrInvalidAddress, i+1, a)
		}
		seen[a] = true
	}

	t := &Table{
		nodes:   make([]RadioAddress, len(nodes)),
		gateway: gateway,
	}
	copy(t.nodes, nodes)
	return t, nil
}

// FromStrings builds a table from textual addresses, as found in config.
func FromStrings(nodes []string, gateway string) (*Table, error) {
	addrs := make([]RadioAddress, 0, len(nodes))
	for _, s := range nodes {
		a, err := ParseRadioAddress(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}

	gw, err := ParseRadioAddress(gateway)
	if err != nil {
		return nil, err
	}
	return New(addrs, gw)
}

// Default returns the compiled-in five node table.
func Default() *Table {
	t, err := FromStrings(DefaultNodeAddresses, DefaultGateway)
	if err != nil {
		panic(err) // constants above are valid
	}
	return t
}

// Len returns the number of nodes in the table.
func (t *Table) Len() int {
	return len(t.nodes)
}

// Contains reports whether id is a configured node.
func (t *Table) Contains(id NodeID) bool {
	return id >= 1 && int(id) <= len(t.nodes)
}

// Validate returns ErrUnknownNode for identifiers outside the table.
func (t *Table) Validate(id int) (NodeID, error) {
	if id < 1 || id > len(t.nodes) {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrUnknownNode, id, len(t.nodes))
	}
	return NodeID(id), nil
}

// AddressFor returns the radio address of a node.
func (t *Table) AddressFor(id NodeID) (RadioAddress, error) {
	if !t.Contains(id) {
		return RadioAddress{}, fmt.Errorf("%w: %d not in [1, %d]", ErrUnknownNode, id, len(t.nodes))
	}
	return t.nodes[id-1], nil
}

// GatewayAddress returns the gateway's own receive address.
func (t *Table) GatewayAddress() RadioAddress {
	return t.gateway
}

// Nodes returns every configured node id in ascending order.
func (t *Table) Nodes() []NodeID {
	ids := make([]NodeID, len(t.nodes))
	for i := range t.nodes {
		ids[i] = NodeID(i + 1)
	}
	return ids
}

// Pipes returns the gateway reading pipe plan: node i listens on pipe i.
func (t *Table) Pipes() []Pipe {
	pipes := make([]Pipe, len(t.nodes))
	for i, a := range t.nodes {
		pipes[i] = Pipe{Number: uint8(i + 1), Node: NodeID(i + 1), Address: a}
	}
	return pipes
}

// NodeForPipe returns the node bound to a gateway reading pipe.
func (t *Table) NodeForPipe(pipe uint8) (NodeID, bool) {
	id := NodeID(pipe)
	return id, t.Contains(id)
}
