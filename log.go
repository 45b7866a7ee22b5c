// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// trace enables the diagnostics tracef writes to stderr: one line per
// Malloc call (and so per Calloc), plus failure notes from the fallback
// heap and the megablock manager. Free and Realloc write none. This is
// in the same spirit as cznic/memory's trace constant. It is a var, not
// a const, so a debug build can flip it.
var trace = false

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

func fatalLogger() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// fatalf reports a configuration or out-of-memory error that the
// allocator cannot recover from and terminates the process. It mirrors
// the original collaborator's error(...), which never returns.
func fatalf(format string, args ...interface{}) {
	fatalLogger().Fatal(fmt.Sprintf(format, args...))
	// fatalLogger().Fatal calls os.Exit, with the nop logger as well, so
	// the panic below is not reached; it keeps this function one that
	// visibly does not return.
	panic(fmt.Sprintf(format, args...))
}

func tracef(format string, args ...interface{}) {
	if !trace {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
}
