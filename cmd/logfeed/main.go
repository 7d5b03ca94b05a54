package main

import "github.com/jsherman999/openclaw_logfeed/internal/cli"

func main() {
	cli.Main()
}
