package main

import "github.com/nick-cummings/personal-assistant/cmd"

func main() {
	cmd.Execute()
}
