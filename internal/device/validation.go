package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 100

var (
	validKinds    = toSet(AllKinds())
	validStatuses = toSet(AllStatuses())
)

func toSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// GenerateID returns a new device ID.
func GenerateID() string {
	return "dev-" + uuid.NewString()
}

// ValidateDevice checks required fields and enumerations. It trims the
// name in place and defaults an empty status to unknown.
func ValidateDevice(d *Device) error {
	if d.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidDevice)
	}

	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if !ValidKind(d.Kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}

	if d.Status == "" {
		d.Status = StatusUnknown
	}
	if !ValidStatus(d.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	return nil
}

// ValidKind reports whether k is a known kind.
func ValidKind(k Kind) bool {
	_, ok := validKinds[k]
	return ok
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := validStatuses[s]
	return ok
}
