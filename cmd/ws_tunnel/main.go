package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	wts "github.com/e1732a364fed/ws_tunnel_simple"
	"github.com/e1732a364fed/ws_tunnel_simple/config"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

const defaultConfFn = "server.toml"

var (
	configFileName string
	showVersion    bool
)

func init() {
	flag.StringVar(&configFileName, "c", defaultConfFn, "config file name")
	flag.BoolVar(&showVersion, "v", false, "print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println("ws_tunnel", wts.Version)
		return
	}

	utils.InitLog()

	conf, err := config.LoadTomlConfFile(configFileName)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	rc, err := conf.Resolve()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	srv := wts.NewServer(rc)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			if ce := utils.CanLogErr("server exited"); ce != nil {
				ce.Write(zap.Error(err))
			}
			os.Exit(1)
		}
	}()

	//阻塞等待退出信号
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, os.Kill, syscall.SIGTERM)
	<-osSignals

	if ce := utils.CanLogInfo("shutting down"); ce != nil {
		ce.Write()
	}
	srv.Close()
}
