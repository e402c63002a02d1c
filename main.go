package main

import "github.com/crystaldolphin/memshard/cmd"

func main() {
	cmd.Execute()
}
