package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cbeuw/tlsecho/internal/client"
	"github.com/cbeuw/tlsecho/internal/identity"
	"github.com/cbeuw/tlsecho/internal/secure"
	log "github.com/sirupsen/logrus"
)

var version string

const defaultMessage = "abcde\nhehe\n\x00"

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	host := flag.String("s", "127.0.0.1", "remoteHost: ip of the echo server")
	serverName := flag.String("name", "localhost", "name the server certificate must be valid for")
	rootsPath := flag.String("ca", "server.crt", "pem file of the certificates to trust")
	transport := flag.String("transport", "direct", "transport: direct or websocket")
	fingerprint := flag.String("fingerprint", "", "ClientHello to mimic: chrome, firefox, safari, ios. Empty for the Go default")
	message := flag.String("m", defaultMessage, "message to send. A trailing NUL is added if missing")
	timeout := flag.Duration("timeout", 10*time.Second, "give up after this long")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *askVersion {
		fmt.Printf("echo-client %s", version)
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

	port := flag.Arg(0)
	if port == "" {
		port = "9999"
	}

	roots, err := identity.LoadRoots(*rootsPath)
	if err != nil {
		log.Fatal(err)
	}
	cc, err := secure.MakeClientContext(roots, *serverName, secure.WithFingerprint(*fingerprint))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	conn, err := client.Dial(ctx, *transport, net.JoinHostPort(*host, port), cc, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	fmt.Fprintln(os.Stderr, secure.Describe(conn))

	echoed, err := client.Exchange(conn, []byte(*message))
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(echoed)
}
