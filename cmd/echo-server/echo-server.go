package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cbeuw/tlsecho/internal/common"
	"github.com/cbeuw/tlsecho/internal/server"
	log "github.com/sirupsen/logrus"
)

var version string

// resolveBindAddr turns the optional port argument into a loopback address. An empty
// port keeps the configured one.
func resolveBindAddr(configured string, port string) (string, error) {
	if port == "" {
		return configured, nil
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(server.DefaultHost, port))
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", port, err)
	}
	return addr.String(), nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	config := flag.String("c", "", "config: path to the configuration file or its content")
	mode := flag.String("mode", "", "mode: serial or concurrent, overrides the configuration")
	transport := flag.String("transport", "", "transport: direct or websocket, overrides the configuration")
	adminAddr := flag.String("admin", "", "ip:port to serve the stats and metrics api on")
	genCert := flag.String("gencert", "", "write a self-signed server.crt and server.key for the given comma separated hosts and exit")
	pprofAddr := flag.String("d", "", "debug use: ip:port to be listened by pprof profiler")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *askVersion {
		fmt.Printf("echo-server %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}

	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	if *genCert != "" {
		if err := writeSelfSigned(*genCert, server.DefaultCertPath, server.DefaultKeyPath); err != nil {
			log.Fatalf("unable to generate certificate: %v", err)
		}
		log.Infof("Wrote %v and %v", server.DefaultCertPath, server.DefaultKeyPath)
		return
	}

	if *pprofAddr != "" {
		runtime.SetBlockProfileRate(5)
		go func() {
			log.Info(http.ListenAndServe(*pprofAddr, nil))
		}()
		log.Infof("pprof listening on %v", *pprofAddr)
	}

	raw := server.DefaultConfig()
	if *config != "" {
		raw, err = server.ParseConfig(*config)
		if err != nil {
			log.Fatalf("Configuration file error: %v", err)
		}
	}
	if *mode != "" {
		raw.Mode = *mode
	}
	if *transport != "" {
		raw.Transport = *transport
	}
	if *adminAddr != "" {
		raw.AdminAddr = *adminAddr
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(1)
	}
	raw.BindAddr, err = resolveBindAddr(raw.BindAddr, flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	sta, listener, err := server.Start(raw, common.RealWorldState)
	if err != nil {
		log.Fatalf("unable to start: %v", err)
	}
	sta.Echo.Sink = os.Stdout
	log.Infof("Listening on %v (%v, %v)", listener.Addr(), sta.Mode, sta.Transport)

	if sta.AdminAddr != "" {
		go func() {
			log.Error(http.ListenAndServe(sta.AdminAddr, server.APIRouterOf(sta)))
		}()
		log.Infof("Admin api listening on %v", sta.AdminAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.MakeDriver(sta).Serve(ctx, listener); err != nil {
		log.Fatal(err)
	}
	log.Info("Shut down")
}
