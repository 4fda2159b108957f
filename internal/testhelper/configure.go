package testhelper

import (
	"fmt"
	"os"
	"testing"

	shardlog "gitlab.com/gitlab-org/shardtracker/internal/log"
	"go.uber.org/goleak"
)

// RunOption is an option that can be passed to Run.
type RunOption func(*runConfig)

type runConfig struct {
	setup        func() error
	ignoredLeaks []goleak.Option
}

// WithSetup allows the caller of Run to pass a setup function that will be called after global
// test state has been configured.
func WithSetup(setup func() error) RunOption {
	return func(cfg *runConfig) {
		cfg.setup = setup
	}
}

// WithIgnoredGoroutine excludes goroutines whose topmost function is fn from
// the leak check.
func WithIgnoredGoroutine(fn string) RunOption {
	return func(cfg *runConfig) {
		cfg.ignoredLeaks = append(cfg.ignoredLeaks, goleak.IgnoreTopFunction(fn))
	}
}

// Run configures logging for tests, runs the suite and fails it if any
// goroutine outlives the tests.
func Run(m *testing.M, opts ...RunOption) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := shardlog.Configure(shardlog.Loggers, "json", "panic"); err != nil {
		fmt.Printf("configure logging: %v", err)
		os.Exit(1)
	}

	if cfg.setup != nil {
		if err := cfg.setup(); err != nil {
			fmt.Printf("error calling setup function: %v", err)
			os.Exit(1)
		}
	}

	goleak.VerifyTestMain(m, cfg.ignoredLeaks...)
}
