package main

import (
	"os"

	"workerd/internal/ctl"
)

func main() {
	os.Exit(ctl.Main())
}
