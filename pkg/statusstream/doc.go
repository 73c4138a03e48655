/*
Package statusstream surfaces task progress to operators.

Every batch task owns an append-only log file colored with ANSI escape
sequences: cyan for progress, green for success, yellow for cooperative
pauses, red for failures. The same lines are fanned out through an
in-process broker so websocket clients can watch a task live; late joiners
catch up by replaying the file first.
*/
package statusstream
