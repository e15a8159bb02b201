// Command aquacored is the aquarium controller's long-running process:
// it loads the environment file, wires every core component via package
// boot, serves the REST API, and shuts down cleanly on SIGINT/SIGTERM
// (spec §2 "Boot & wiring").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"aquacore/boot"
	"aquacore/x/logx"
)

type options struct {
	ConfigPath string `short:"c" long:"config" description:"path to the YAML environment file" default:"/etc/aquacore/env.yaml"`
	ListenAddr string `short:"l" long:"listen" description:"override the HTTP listen address from the environment file"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logx.For("main")

	env, err := boot.LoadEnvironment(opts.ConfigPath)
	if err != nil {
		log.Error("load environment", "path", opts.ConfigPath, "err", err)
		os.Exit(1)
	}
	if opts.ListenAddr != "" {
		env.HTTPAddr = opts.ListenAddr
	}

	sys, err := boot.Wire(env)
	if err != nil {
		log.Error("wire system", "err", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sys.Shutdown(ctx); err != nil {
			log.Error("shutdown", "err", err)
		}
	}()

	if err := sys.Run(); err != nil {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
}
