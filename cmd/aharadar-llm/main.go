package main

import (
	"log"
	"os"

	"github.com/lamosty/aharadar-sub003/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:], "aharadar-llm"); err != nil {
		log.Fatalf("%v", err)
	}
}
