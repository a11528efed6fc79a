// File: internal/wakeup/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package wakeup implements the cross-thread "doorbell" used to kick a
// goroutine blocked in poll(2). Three interchangeable backends exist:
// an eventfd counter (Linux), a non-blocking pipe (any Unix) and a
// condition-variable emulation for platforms or tests lacking both.
// The emulation hands out negative descriptors that only its own poll
// strategy understands, so the strategy is injected into the reactor
// together with the provider.
package wakeup
