package main

import "github.com/exclave/exclave/cmd"

func main() {
	cmd.Execute()
}
