// Command opensrf-router runs the router of spec.md §4.6: one process that
// serves every configured domain (one router loop per domain), tracking
// service registrations and round-robining forwarded requests across each
// service's drones.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	"github.com/evergreen-library-system/opensrf-go/router"
)

func main() {
	configFlag := flag.String("config", "opensrf.yml", "Path to the deployment config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-router: load config: %+v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-router: %+v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	domains := cfg.Router.Domains
	if len(domains) == 0 {
		domains = []string{cfg.Bus.Domain}
	}

	acl := router.ACL{Allow: cfg.Router.AllowedServices, Deny: cfg.Router.DeniedServices}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		cancel()
	}()

	errs := make(chan error, len(domains))
	for _, domain := range domains {
		domain := domain
		go func() {
			errs <- serveDomain(ctx, cfg, domain, acl)
		}()
	}

	var first error
	for range domains {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func serveDomain(ctx context.Context, cfg *config.Config, domain string, acl router.ACL) error {
	client := bus.NewRedisClient(cfg.Bus.Compress, cfg.Bus.CompressThresholdBytes)
	creds := bus.Credentials{Username: cfg.Bus.Username, Password: cfg.Bus.Password}
	if err := client.Connect(ctx, domain, cfg.Bus.Port, creds, bus.RoleRouter, "", ""); err != nil {
		return err
	}
	defer client.Disconnect()

	rt := router.NewRouter(client, addr.Router(domain).String(), acl)
	return rt.Serve(ctx, time.Second)
}
