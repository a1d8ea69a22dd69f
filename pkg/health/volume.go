package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cocosip/locus/pkg/volume"
)

// VolumeChecker probes one volume with the canary write-and-delete
// round trip plus a free-space check
type VolumeChecker struct {
	vol volume.Volume
}

// NewVolumeChecker creates a checker for the given volume
func NewVolumeChecker(vol volume.Volume) *VolumeChecker {
	return &VolumeChecker{vol: vol}
}

// Check performs the volume health check
func (c *VolumeChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if !c.vol.Healthy(ctx) {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("volume %s failed its canary check", c.vol.ID()),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	avail, err := c.vol.AvailableSpace()
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("volume %s: %v", c.vol.ID(), err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("volume %s healthy, %d bytes available", c.vol.ID(), avail),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the check type
func (c *VolumeChecker) Type() CheckType {
	return CheckTypeVolume
}

// VolumeID returns the checked volume's identifier
func (c *VolumeChecker) VolumeID() string {
	return c.vol.ID()
}
