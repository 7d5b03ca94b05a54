package main

import "github.com/jsherman999/openclaw_logfeed/internal/daemon"

func main() {
	daemon.Main()
}
