// Command opensrf-listener runs the generic prefork listener of spec.md
// §4.5. Invoked normally it is the listener: it claims its service's bus
// address, spawns and maintains a pool of drone subprocesses, and
// dispatches inbound requests to them. Invoked with -drone (the flag the
// listener itself passes when it re-execs its own binary as a child) it is
// one of those drones instead: it claims a reserved per-drone address and
// runs the application method table against whatever arrives on stdin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	"github.com/evergreen-library-system/opensrf-go/osession"
	"github.com/evergreen-library-system/opensrf-go/prefork"
	"github.com/evergreen-library-system/opensrf-go/stack"
)

func main() {
	configFlag := flag.String("config", "opensrf.yml", "Path to the deployment config file")
	serviceFlag := flag.String("service", "", "Service name this listener/drone serves")
	droneFlag := flag.Bool("drone", false, "Run as a single drone instead of the listener parent")
	flag.Parse()

	if *serviceFlag == "" {
		fmt.Fprintln(os.Stderr, "opensrf-listener: -service is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-listener: load config: %+v\n", err)
		os.Exit(1)
	}

	if *droneFlag {
		if err := runDrone(cfg, *serviceFlag); err != nil {
			fmt.Fprintf(os.Stderr, "opensrf-listener: drone exiting: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runListener(cfg, *configFlag, *serviceFlag); err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-listener: %+v\n", err)
		os.Exit(1)
	}
}

func runListener(cfg *config.Config, configPath, service string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bus.NewRedisClient(cfg.Bus.Compress, cfg.Bus.CompressThresholdBytes)
	creds := bus.Credentials{Username: cfg.Bus.Username, Password: cfg.Bus.Password}
	if err := client.Connect(ctx, cfg.Bus.Domain, cfg.Bus.Port, creds, bus.RoleService, service, ""); err != nil {
		return err
	}
	defer client.Disconnect()

	sc := cfg.ServiceConfigFor(service)
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	l := prefork.NewListener(prefork.Config{
		MinChildren:         sc.MinChildren,
		MaxChildren:         sc.MaxChildren,
		MinSpareChildren:    sc.MinSpareChildren,
		MaxSpareChildren:    sc.MaxSpareChildren,
		MaxRequestsPerChild: sc.MaxRequests,
	}, client, func() (prefork.DroneProcess, error) {
		return prefork.SpawnSubprocess(exe, []string{
			"-config", configPath,
			"-service", service,
			"-drone",
		}, nil)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGHUP:
				l.SIGHUP()
			case syscall.SIGTERM:
				l.SIGTERMGraceful(ctx)
				cancel()
			case syscall.SIGINT, syscall.SIGQUIT:
				l.SIGINTImmediate()
				cancel()
			}
		}
	}()

	return l.Start(ctx)
}

// runDrone serves the one reserved address this drone claims, running the
// built-in opensrf.math.add demonstration method from spec.md's worked
// example against framed requests read from stdin.
func runDrone(cfg *config.Config, service string) error {
	ctx := context.Background()

	client := bus.NewRedisClient(cfg.Bus.Compress, cfg.Bus.CompressThresholdBytes)
	creds := bus.Credentials{Username: cfg.Bus.Username, Password: cfg.Bus.Password}
	droneID := addr.NewDroneID()
	if err := client.Connect(ctx, cfg.Bus.Domain, cfg.Bus.Port, creds, bus.RoleService, service, droneID); err != nil {
		return err
	}
	defer client.Disconnect()

	selfAddr := addr.Drone(cfg.Bus.Domain, service, droneID).String()

	methods := stack.NewMethods()
	registerBuiltinMethods(methods)

	st := stack.NewStack(client, methods, selfAddr)
	registry := osession.NewRegistry()

	sc := cfg.ServiceConfigFor(service)
	return prefork.RunDrone(ctx, st, registry, sc.MaxRequests, os.Stdin, os.Stdout)
}

func registerBuiltinMethods(methods *stack.Methods) {
	methods.Register("opensrf.math.add", func(ctx context.Context, r *stack.Responder, params []any) error {
		var sum float64
		for _, p := range params {
			switch n := p.(type) {
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					continue
				}
				sum += f
			case float64:
				sum += n
			}
		}
		return r.Result(sum)
	})
}
