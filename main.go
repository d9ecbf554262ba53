package main

import "github.com/agentic-research/wxsmerge/cmd"

func main() {
	cmd.Execute()
}
