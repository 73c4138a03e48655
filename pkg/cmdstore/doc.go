/*
Package cmdstore persists command bodies, the per-execution ordered log of
inputs and outputs that callbacks mutate as an agent works through a task.

Command bodies are kept separate from the control-plane entities in
pkg/storage because their write pattern is different: high-frequency
fields-only updates scoped to one execution. Two backends implement the
same Store contract, selected by configuration at startup:

  - BoltDB: embedded, zero-dependency, truncates input and output to 1KB
  - Redis: keyword-indexed hashes keeping full field values

Within one execution command indices are dense starting at 0. Soft-deleted
commands stay in the store until HardDeleteMarked so playback replay can
still observe them.
*/
package cmdstore
