/*
Package reconciler fails executions that stopped making progress.

An execution enters executing when its batch invokes the agent and leaves
it only through agent callbacks or operator actions. If the agent host
dies, or the control plane restarts while a batch is mid-flight, the
execution stays executing forever and its plan can never be re-run. The
reconciler sweeps on a fixed interval and marks any execution that has
sat in executing past the configured horizon as failed with reason
"orphaned", putting the plan back into a re-runnable state.

The sweep is level-triggered and stateless: every cycle reads current
store state and converges it, so missed cycles and restarts are safe.
*/
package reconciler
