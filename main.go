package main

import "github.com/mame82/cfload/cmd"

func main() {
	cmd.Execute()
}
