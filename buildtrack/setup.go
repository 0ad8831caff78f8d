package buildtrack

import (
	"context"
	"fmt"
)

// SetupFans builds a fan entity for every fan the hub reports.
func SetupFans(ctx context.Context, hub Hub, bus EventBus, opts ...FanOption) ([]*Fan, error) {
	devices, err := hub.DevicesOfType(ctx, KindFan)
	if err != nil {
		return nil, fmt.Errorf("list fans: %w", err)
	}

	fans := make([]*Fan, 0, len(devices))
	for _, device := range devices {
		fan, err := NewFan(ctx, hub, bus, device, opts...)
		if err != nil {
			return nil, err
		}
		fans = append(fans, fan)
	}

	return fans, nil
}
