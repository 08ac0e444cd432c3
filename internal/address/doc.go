// Package address maps garden node identifiers to radio addresses and MQTT
// topics.
//
// A Table is built once at start-up (from configuration or Default) and is
// read-only afterwards, so it is safe to share between goroutines.
//
//	table := address.Default()
//	addr, _ := table.AddressFor(2)                                  // "2NODE"
//	topic, _ := table.TopicFor(2, "smartgarden/area1/node/+/data")  // ".../node/2/data"
//	id, _ := table.NodeIDFromTopic("smartgarden/area1/node/2/pump", "smartgarden/area1/node/+/pump")
package address
