/*
Package dispatch drives plan batches through their executions.

One batch walks one plan's executions strictly in order: claim the
execution, resolve its target asset and account (late-bound for sync
plans), pop a worker from the registry, invoke the remote agent, and wait
for callbacks to finish the commands. Pause steps halt the batch
cooperatively; failures stop it unless the plan strategy is
failed-continue. Batches for different plans run concurrently.

The package also owns the execution state machine: every status change
goes through Transition, which validates the move against the lifecycle
graph and persists status and reason before returning.
*/
package dispatch
