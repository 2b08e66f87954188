package main

import "github.com/fakeyudi/afk/cmd"

func main() {
	cmd.Execute()
}
