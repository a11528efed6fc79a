// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime counters and debug introspection for the poll
// reactor engine:
//   - typed Config loaded once from the environment
//   - snapshot ConfigStore with reload listeners
//   - lock-free counters for kicks, poll syscalls and wakeups
//   - named debug probes
package control
