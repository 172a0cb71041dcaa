// Package testing switches the process into test mode when imported by a
// test binary.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("MEMBERDESK_TEST_MODE", "1")
		if os.Getenv("AUTH_URL") == "" {
			_ = os.Setenv("AUTH_URL", "http://127.0.0.1:0")
		}
		if os.Getenv("AUTH_ANON_KEY") == "" {
			_ = os.Setenv("AUTH_ANON_KEY", "test-anon-key")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
