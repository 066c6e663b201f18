package main

import "github.com/audiolibrelab/mp3rec/cmd"

func main() {
	cmd.Execute()
}
