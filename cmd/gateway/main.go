// Command gateway runs the axiomrelay multi-tenant LLM relay.
package main

import (
	"errors"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/cmd"
	"github.com/axiomrelay/gateway/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cmd.WaitForCloudDeploy()
			return
		}
		log.Fatalf("config: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	cmd.StartService(cfg, *configPath, "")
}
