package main

import "github.com/prepbolt/apiserver/cmd"

func main() {
	cmd.Execute()
}
