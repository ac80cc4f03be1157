package main

import (
	"fmt"
	"os"

	"github.com/kobzarvs/fuzzypaste/internal/app"
)

func main() {
	if err := app.New(os.Args[1:]).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "fuzzypaste:", err)
		os.Exit(1)
	}
}
