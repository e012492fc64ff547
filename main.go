package main

import (
	"os"

	"github.com/ThatCatDev/tanrenai/gemma/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
