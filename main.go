package main

import "github.com/theirongolddev/burnwatch/cmd"

func main() {
	cmd.Execute()
}
