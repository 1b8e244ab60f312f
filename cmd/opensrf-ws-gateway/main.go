// Command opensrf-ws-gateway runs the WebSocket translator of spec.md
// §4.7: one long-lived socket per browser tab, multiplexing many OSRF
// conversations and reaping ones that go idle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	translatorws "github.com/evergreen-library-system/opensrf-go/translator/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	configFlag := flag.String("config", "opensrf.yml", "Path to the deployment config file")
	listenFlag := flag.String("listen", ":7682", "Address to listen for WebSocket gateway connections on")
	traceFlag := flag.Bool("trace", false, "Log idle-session reaping and idle connection closes")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-ws-gateway: load config: %+v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *listenFlag, *traceFlag); err != nil {
		fmt.Fprintf(os.Stderr, "opensrf-ws-gateway: %+v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, listen string, trace bool) error {
	ctx := context.Background()

	client := bus.NewRedisClient(cfg.Bus.Compress, cfg.Bus.CompressThresholdBytes)
	creds := bus.Credentials{Username: cfg.Bus.Username, Password: cfg.Bus.Password}
	if err := client.Connect(ctx, cfg.Bus.Domain, cfg.Bus.Port, creds, bus.RoleStandalone, "translator-ws", ""); err != nil {
		return err
	}
	defer client.Disconnect()

	var traceFn func(string)
	if trace {
		traceFn = func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}

	self := addr.Service(cfg.Bus.Domain, "translator-ws").String()
	tr := translatorws.New(client, cfg.Bus.Domain, self, cfg.Translators, traceFn)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("opensrf-ws-gateway: upgrade error:", err)
			return
		}
		defer conn.Close()
		if err := tr.Serve(r.Context(), conn); err != nil {
			log.Println("opensrf-ws-gateway: connection closed:", err)
		}
	})

	fmt.Fprintf(os.Stderr, "opensrf-ws-gateway: listening on %s\n", listen)
	return http.ListenAndServe(listen, nil)
}
