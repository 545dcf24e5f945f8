package main

import (
	"os"

	_ "time/tzdata" // schedule timezones must resolve on minimal images
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
