package main

import "github.com/tonimelisma/graph-snippets/cmd"

func main() {
	cmd.Execute()
}
