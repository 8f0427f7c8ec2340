package main

import "github.com/wolfganghq/centurion/cmd"

func main() {
	cmd.Execute()
}
