// Package main — точка входа liveclass-gateway (HTTP API + realtime channel).
package main

import (
	"log"

	"github.com/SRMV-Team/liveclass-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
