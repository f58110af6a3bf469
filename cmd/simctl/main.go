package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"simulate-now/cmd/simctl/cmd"
	"simulate-now/internal/logging"
)

func main() {
	logging.Configure(os.Getenv("APP_LOG_LEVEL"), "text")
	if err := cmd.RootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
