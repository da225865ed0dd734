package main

import "github.com/ctxsync/ctxsync/cmd"

func main() {
	cmd.Execute()
}
