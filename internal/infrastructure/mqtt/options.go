package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when the config leaves connect_timeout unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize caps outgoing payloads.
	maxPayloadSize = 1 << 20

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// newClientID derives a per-attempt client id from the configured base, so a
// half-open previous connection cannot collide with the new one.
func newClientID(base string) string {
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

// buildClientOptions creates paho options for one connect attempt.
//
// Auto-reconnect is off: the control loop owns reconnection.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout(cfg))
	opts.SetKeepAlive(defaultKeepAlive)
	// Messages are handed to the inbox without blocking, so ordering across
	// paho goroutines is kept.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.Reconnect.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(cfg.Reconnect.ConnectTimeout) * time.Second
}

// Gateway status values published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusHealthy = "healthy"
)

// StatusMessage is the retained JSON document on the gateway status topic.
type StatusMessage struct {
	Status    string         `json:"status"`
	GatewayID string         `json:"gateway_id"`
	ClientID  string         `json:"client_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func buildStatusPayload(msg StatusMessage, now time.Time) []byte {
	msg.Timestamp = now.UTC().Format(time.RFC3339)
	// Marshal of this struct cannot fail unless Details holds unsupported
	// values; fall back to the bare status then.
	b, err := json.Marshal(msg)
	if err != nil {
		msg.Details = nil
		b, _ = json.Marshal(msg)
	}
	return b
}

// configureLWT makes the broker publish a retained offline status if the
// connection drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topic, gatewayID, clientID string, now time.Time) {
	payload := buildStatusPayload(StatusMessage{
		Status:    StatusOffline,
		GatewayID: gatewayID,
		ClientID:  clientID,
		Reason:    "unexpected_disconnect",
	}, now)
	opts.SetBinaryWill(topic, payload, 1, true)
}
