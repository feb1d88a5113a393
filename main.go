package main

import "github.com/pcrawford/filescout/cmd"

func main() {
	cmd.Execute()
}
