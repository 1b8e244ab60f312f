// Command opensrf-http-gateway runs the HTTP translator of spec.md §4.7,
// bridging one-shot and multipart HTTP requests onto the bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	translatorhttp "github.com/evergreen-library-system/opensrf-go/translator/http"
)

func main() {
	configFlag := flag.String("config", "opensrf.yml", "Path to the deployment config file")
	listenFlag := flag.String("listen", ":7680", "Address to listen for HTTP gateway requests on")
	traceFlag := flag.Bool("trace", false, "Log every REQUEST this gateway forwards")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-http-gateway: load config: %+v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *listenFlag, *traceFlag); err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-http-gateway: %+v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, listen string, trace bool) error {
	ctx := context.Background()

	client := bus.NewRedisClient(cfg.Bus.Compress, cfg.Bus.CompressThresholdBytes)
	creds := bus.Credentials{Username: cfg.Bus.Username, Password: cfg.Bus.Password}
	if err := client.Connect(ctx, cfg.Bus.Domain, cfg.Bus.Port, creds, bus.RoleStandalone, "translator-http", ""); err != nil {
		return err
	}
	defer client.Disconnect()

	var traceFn func(string)
	if trace {
		traceFn = func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}

	self := addr.Service(cfg.Bus.Domain, "translator-http").String()
	tr := translatorhttp.New(client, cfg.Bus.Domain, self, cfg.Translators, traceFn)

	fmt.Fprintf(os.Stderr, "opensrf-http-gateway: listening on %s\n", listen)
	return http.ListenAndServe(listen, tr)
}
