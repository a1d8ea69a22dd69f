/*
Package log provides structured logging for Locus built on zerolog.

All components log through this package so output format, level, and
destination are controlled in one place. Logs are structured key-value
pairs, emitted as JSON for machines or as colorized console lines for
humans.

# Architecture

	┌─────────────────────────────────────────────┐
	│                Components                   │
	│  pool · queue · metastore · maintenance ·   │
	│  recovery · volume · tenant · quota         │
	└───────────────┬─────────────────────────────┘
	                │ WithComponent("...")
	                ▼
	┌─────────────────────────────────────────────┐
	│              Global Logger                  │
	│  level filter → formatter → output writer   │
	└───────────────┬─────────────────────────────┘
	                │
	        ┌───────┴────────┐
	        ▼                ▼
	   JSON output      Console output
	   (production)     (development)

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers carry a component field on every line:

	logger := log.WithComponent("maintenance")
	logger.Info().Int("reclaimed", n).Msg("timed-out files re-pended")

Domain field helpers keep field names consistent across components:

	log.WithTenant("t1").Warn().Msg("quota near limit")
	log.WithFileKey(key).Error().Err(err).Msg("physical delete failed")
	log.WithVolume("vol-2").Warn().Msg("canary check failed")

Chain fields for richer context:

	log.WithComponent("pool").With().
		Str("tenant_id", tenant).
		Str("volume_id", vol.ID()).
		Logger().
		Info().Int64("bytes", n).Msg("file written")

# Field Conventions

  - component: which subsystem emitted the line
  - tenant_id: the tenant an operation acts on
  - file_key:  the 32-hex file identifier
  - volume_id: the volume involved in an I/O operation
  - error:     attached via .Err(err), never formatted into the message

Keep messages lowercase and terse; put variability into fields.

# See Also

  - pkg/maintenance for per-stage logging examples
  - pkg/metrics for the numeric counterpart of these events
*/
package log
