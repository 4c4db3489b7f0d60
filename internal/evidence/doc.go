// Package evidence records a tamper-evident trail for every build attempt.
//
// Each attempt owns a directory:
//
//	<root>/<mission_id>/attempt-<n>/
//	    manifest.json         snapshot taken before anything runs
//	    audit_pass.json       exactly one verdict document,
//	    audit_fail.json         written when the attempt concludes
//	    flight_recorder.json  ordered event log
//	    seal.json             BLAKE3 digests of the files above
//
// A Recorder is sealed exactly once. Sealing writes the verdict, the event
// log and the digests, then makes every file read-only. Events logged after
// the seal are dropped and a second Seal fails with ErrAlreadySealed.
package evidence
