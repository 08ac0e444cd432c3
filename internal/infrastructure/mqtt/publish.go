package mqtt

import (
	"fmt"
)

// Publish sends payload to topic with the configured QoS, not retained.
//
// Returns ErrSessionLost when the session is not subscribed. The caller
// decides whether to retry; telemetry is not.
func (s *Session) Publish(topic string, payload []byte) error {
	return s.PublishWith(topic, payload, byte(s.cfg.QoS), false) //nolint:gosec // validated in NewSession
}

// PublishRetained publishes a retained message with the configured QoS.
//
// Use for state topics where new subscribers should get the last value.
func (s *Session) PublishRetained(topic string, payload []byte) error {
	return s.PublishWith(topic, payload, byte(s.cfg.QoS), true) //nolint:gosec // validated in NewSession
}

// PublishWith sends a message with explicit QoS and retain flag.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
func (s *Session) PublishWith(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !s.IsConnected() {
		return ErrSessionLost
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrSessionLost
	}

	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		s.publishFailed.Add(1)
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		s.publishFailed.Add(1)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	s.published.Add(1)
	return nil
}

// PublishStatus publishes a retained status document on the gateway status
// topic. GatewayID, ClientID and Timestamp are filled in.
func (s *Session) PublishStatus(msg StatusMessage) error {
	msg.GatewayID = s.gatewayID
	msg.ClientID = s.ClientID()
	return s.PublishWith(s.statusTopic, buildStatusPayload(msg, s.clock.Now()), 1, true)
}
