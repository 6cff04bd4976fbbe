// Command hostpooldemo wires up a pool.Pool against a single host and
// exercises it with a handful of concurrent fake requests, to demonstrate
// how the pieces of this module fit together end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/drivercore/hostpool/hostdistance"
	"github.com/drivercore/hostpool/pool"
	"github.com/drivercore/hostpool/poolconfig"
	"github.com/drivercore/hostpool/poollog"
	"github.com/drivercore/hostpool/signals"
	"github.com/drivercore/hostpool/transport"
)

func main() {
	host := flag.String("host", "127.0.0.1", "host to pool connections to")
	configPath := flag.String("config", "", "path to a TOML config file")
	verbose := flag.Bool("verbose", false, "log at DEBUG instead of NOTICE")

	fs := pflag.NewFlagSet("hostpooldemo", pflag.ContinueOnError)
	poolconfig.RegisterFlags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	log := poollog.Default()
	if *verbose {
		log.SetLevel(poollog.DEBUG)
	}

	loader := &poolconfig.Loader{FilePath: *configPath, Flags: fs}
	cfg, err := loader.Load()
	if err != nil {
		log.ERROR("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signals.ShutdownContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := pool.DefaultOptionsFor(hostdistance.Local)
	opts.Distance.CoreConnections = cfg.Local.CoreConnections
	opts.Distance.MaxConnections = cfg.Local.MaxConnections
	opts.Distance.MaxRequestsPerConn = cfg.Local.MaxRequestsPerConn
	opts.Distance.NewConnectionThreshold = cfg.Local.NewConnectionThreshold
	opts.MaxStreamPerConnection = cfg.MaxStreamPerConnection
	opts.IdleTimeout = cfg.IdleTimeout.Duration
	opts.CleanupInterval = cfg.CleanupInterval.Duration

	factory := transport.NewDialer(&net.Dialer{Timeout: 5 * time.Second}, cfg.Port, cfg.MaxStreamPerConnection)

	p := pool.New(*host, hostdistance.Local, opts, factory, log)
	if err := p.Init(ctx); err != nil {
		log.WARN("pool initialization had errors", "err", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			borrowCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			conn, err := p.Borrow(borrowCtx)
			if err != nil {
				log.WARN("borrow failed", "worker", id, "err", err)
				return
			}
			log.INFO("borrowed connection", "worker", id)
			time.Sleep(50 * time.Millisecond)
			p.Return(conn)
		}(i)
	}
	wg.Wait()

	fmt.Fprintf(os.Stdout, "pool size for %s: %d (open=%d trashed=%d)\n", *host, p.Size(), p.Opened(), p.Trashed())
}
