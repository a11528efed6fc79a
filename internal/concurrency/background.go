// File: internal/concurrency/background.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine pool for helper tasks that outlive the caller (background
// pollers, demo workers).

package concurrency

import (
	"context"
	"fmt"
	"math"
	"os"

	"code.cloudfoundry.org/lager/v3"
	"github.com/bytedance/gopkg/util/gopool"
)

var background = newBackgroundPool()

func newBackgroundPool() gopool.Pool {
	logger := lager.NewLogger("hioload-poll")
	logger.RegisterSink(lager.NewWriterSink(os.Stderr, lager.ERROR))
	p := gopool.NewPool("hioload-poll.background", math.MaxInt32, gopool.NewConfig())
	p.SetPanicHandler(func(_ context.Context, r interface{}) {
		logger.Error("background-task-panic", fmt.Errorf("%v", r))
	})
	return p
}

// Go runs f on a pooled goroutine.
func Go(f func()) {
	background.Go(f)
}
