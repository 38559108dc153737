package main

import "github.com/skycoin/rdt/cmd/rdt-sender/commands"

func main() {
	commands.Execute()
}
