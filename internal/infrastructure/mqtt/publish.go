package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 256KB; security events are small.
const maxPayloadSize = 256 << 10

// Publish sends payload to topic.
//
// Security events go out with QoS 1 and retained=false: a panel that joins
// later must not replay an old lockout as if it were current.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, qos, retained)
}

// DefaultQoS returns the configured QoS level.
func (c *Client) DefaultQoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated 0-2 by config
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
