/*
Package agent provisions workers and starts the remote agent binary.

One invocation reuses a single SSH session for three steps: ensure the
agent binary matches the local copy by checksum, upload the execution's
command bundle (optionally AES-encrypted with the task token), and start
the agent with a base64 JSON envelope. The driver returns as soon as the
agent is running; per-command progress flows back through the callback
endpoint.
*/
package agent
