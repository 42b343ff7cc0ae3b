package main

import "github.com/rewired-gh/firewatch/cmd/firewatch/commands"

func main() {
	commands.Execute()
}
