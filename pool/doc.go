// Package pool
// Author: momentics <momentics@gmail.com>
//
// Typed object pools for per-iteration scratch state of the poll loop.
package pool
