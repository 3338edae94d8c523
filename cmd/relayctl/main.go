package main

import (
	"log"

	"github.com/austindbirch/thought_relay/cmd/relayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
