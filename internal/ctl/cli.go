package ctl

import (
	"fmt"
	"os"
)

type Config struct {
	Addr   string
	LogLvl string
}

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns an exit code (0 for success, non-zero on error).
func MainWithArgs(args []string) int {
	cfg := &Config{
		Addr:   envStr("WORKERD_ADDR", "http://127.0.0.1:8080"),
		LogLvl: envStr("WORKERCTL_LOG_LEVEL", "info"),
	}
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code (0 for success, non-zero on error) for use by cmd/workerctl.
func Main() int { return MainWithArgs(os.Args[1:]) }
