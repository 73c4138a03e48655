/*
Package storage provides BoltDB-backed persistence for Behemoth's control
plane entities: workers, assets, environments, plans, executions, playbacks,
and playback-execution relation rows.

All entities are stored as JSON in per-type buckets. The Store interface is
the system of record for the dispatcher, the callback endpoint, and the
playback recorder; command bodies live separately in pkg/cmdstore.

Playback-execution rows are append-only: a playback never mutates past
executions, new rows are only ever added.
*/
package storage
