package main

import "github.com/kozaktomas/asset-guard/cmd"

func main() {
	cmd.Execute()
}
