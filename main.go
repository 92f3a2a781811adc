package main

import "github.com/danmont/starpipe/cmd"

func main() {
	cmd.Execute()
}
