// Package remote executes extension lifecycle operations on a target
// host. The target is usually the local machine, but the same executor
// also drives remote development hosts over SSH for VM-backed
// environments.
//
// The package is split along three lines:
//
//   - Runner is the host abstraction: run a shell command, push a
//     file. LocalRunner satisfies it with /bin/sh and the local
//     filesystem; Client satisfies it with an SSH session and SFTP.
//   - The planner turns an extension manifest into the concrete shell
//     commands for its declared install method (mise, apt, binary,
//     npm, script, or hybrid).
//   - Executor wires the two together and reports results in the shape
//     the lifecycle orchestrator expects, including retry counts and
//     operation log paths on failure.
package remote
