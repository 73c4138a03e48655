/*
Package registry tracks the pool of workers available to run agent tasks.

Workers are bucketed per org by label, with an unlabeled default bucket as
fallback. Selection pops a worker out of the pool for the lifetime of one
execution; the dispatcher releases it when the execution ends. Out-of-band
worker changes are recorded in a dirty list with a 24 hour lifetime and
folded back in by RefreshAll before each dispatch.
*/
package registry
