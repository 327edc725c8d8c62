package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
)

const statusUpdateTimeout = 5 * time.Second

// StatusHandler returns an MQTT handler that applies device status reports.
//
// The payload is either a StatusReport JSON object or a bare status word
// ("online"). The tenant and device come from the topic, so a device can
// only ever update itself.
func StatusHandler(reg *Registry, topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		tenantID, deviceID, ok := topics.ParseDeviceStatus(topic)
		if !ok {
			return fmt.Errorf("device status: unexpected topic %q", topic)
		}

		status, err := parseStatus(payload)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
		defer cancel()
		return reg.SetStatus(ctx, tenantID, deviceID, status)
	}
}

func parseStatus(payload []byte) (Status, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var report StatusReport
		if err := json.Unmarshal([]byte(trimmed), &report); err != nil {
			return "", fmt.Errorf("device status: decoding payload: %w", err)
		}
		trimmed = string(report.Status)
	}

	status := Status(strings.ToLower(trimmed))
	if !ValidStatus(status) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, trimmed)
	}
	return status, nil
}
