// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deferred callback execution for the reactor: closure lists, execution
// contexts flushed after locks are released, and the shared goroutine pool
// hosting background pollers.
package concurrency
