// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a portable poll(2)-based readiness reactor.
//
// A Descriptor wraps one OS descriptor with per-direction readiness slots.
// Descriptors are added to Pollsets, directly or through PollsetSet trees.
// Goroutines call Pollset.Work to block in a single poll(2) covering every
// descriptor of the pollset plus a private wakeup signal; readiness callbacks
// fire after the syscall returns and after every lock is released. Only one
// poll attempt claims each direction of a descriptor at a time; the others
// park as inactive watchers and are kicked when the claimant stops polling.
package reactor
