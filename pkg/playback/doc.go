/*
Package playback records successful deploy executions and replays them.

A playback is an append-only recording: when a deploy execution under an
auto-promote plan reaches success, the recorder appends one relation row
capturing the plan name, version, and the asset and account display
strings. Sync plans later materialize those rows into fresh not-start
executions whose commands are cloned from the recorded originals and
whose targets are left as name hints for late binding at dispatch time.
*/
package playback
