// Package logging provides structured logging for gantry.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (trace_id, mission, request)
//   - Secret redaction at the encoder
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithMission(ctx, missionID, attempt)
//	logger.Info(ctx, "audit passed", zap.Duration("duration", d))
//
// Output carries the correlation fields:
//
//	{
//	  "ts": "2025-11-24T10:15:30Z",
//	  "level": "info",
//	  "msg": "audit passed",
//	  "mission.id": "6f1c...",
//	  "mission.attempt": 2,
//	  "duration": "4.2s"
//	}
//
// # Testing
//
// NewTestLogger returns a logger backed by zaptest/observer with assertion
// helpers (AssertLogged, AssertField, AssertNoSecrets).
package logging
