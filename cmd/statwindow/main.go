package main

import (
	"fmt"
	"os"
)

const (
	AppName    = "statwindow"
	AppVersion = "0.3.0"
	AppDesc    = "Windowed WebRTC stream statistics sampler"
)

func main() {
	if err := createCliApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
