// Package guard switches binaries into test mode when imported by tests, so
// calling main never opens connections.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WELLHEAD_TEST_MODE") == "" {
			_ = os.Setenv("WELLHEAD_TEST_MODE", "1")
		}
	})
}
