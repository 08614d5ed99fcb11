package main

import "github.com/killallgit/flowchat/cmd"

func main() {
	cmd.Execute()
}
