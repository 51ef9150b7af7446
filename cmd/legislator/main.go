// Command legislator runs a single participant in the consensus
// cluster: it binds the paxos wire port, the bootstrap (port+1) stream,
// and serves until killed. Flag parsing and process wiring only — CLI
// design and configuration-file loading are out of this system's scope
// (spec §1).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/senutpal/legislature/internal/bootstrap"
	"github.com/senutpal/legislature/internal/metrics"
	"github.com/senutpal/legislature/internal/paxos"
	"github.com/senutpal/legislature/internal/parliament"
	"github.com/senutpal/legislature/internal/storage"
	"github.com/senutpal/legislature/internal/transport"
)

func main() {
	var (
		bindHost      = flag.String("host", "0.0.0.0", "address this legislator binds to")
		port          = flag.Int("port", 6000, "paxos wire port (bootstrap transfers use port+1)")
		advertiseHost = flag.String("advertise", "", "address peers should dial (defaults to the bind address)")
		dataDir       = flag.String("data", "./data", "directory for durable state")
		peersFlag     = flag.String("peers", "", "comma-separated host:port list of the starting membership")
		statsdAddr    = flag.String("statsd", "", "statsd endpoint for metrics (disabled if empty)")
		retryInterval = flag.Duration("retry-interval", time.Second, "Signal.Wait retry interval")
		leaseWindow   = flag.Duration("lease-window", 10*time.Second, "acceptor cleanup lease window")
		pauseMax      = flag.Duration("pause-max", 2*time.Second, "max random backoff before a proposer retry")
	)
	flag.Parse()

	logger := log.NewLogfmtLogger(os.Stderr)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	advertiseAddr, err := transport.ResolveAdvertiseAddr(*bindHost, *port, *advertiseHost, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to resolve advertise address", "err", err)
		os.Exit(1)
	}
	self, err := parseReplica(advertiseAddr)
	if err != nil {
		level.Error(logger).Log("msg", "failed to parse own advertise address", "err", err)
		os.Exit(1)
	}

	members := []paxos.Replica{self}
	for _, p := range strings.Split(*peersFlag, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := parseReplica(p)
		if err != nil {
			level.Error(logger).Log("msg", "failed to parse peer address", "addr", p, "err", err)
			os.Exit(1)
		}
		members = append(members, r)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		level.Error(logger).Log("msg", "failed to create data directory", "dir", *dataDir, "err", err)
		os.Exit(1)
	}

	ledgerQueue, err := storage.NewFileQueue(filepath.Join(*dataDir, "paxos.ledger"))
	if err != nil {
		level.Error(logger).Log("msg", "failed to open ledger", "err", err)
		os.Exit(1)
	}
	promisedField := storage.NewFileField(filepath.Join(*dataDir, "paxos.promised_decree"))
	acceptedField := storage.NewFileField(filepath.Join(*dataDir, "paxos.accepted_decree"))
	highestField := storage.NewFileField(filepath.Join(*dataDir, "paxos.highest_proposed_decree"))
	replicaSetField := storage.NewFileField(filepath.Join(*dataDir, "paxos.replicaset"))

	var stats metrics.Recorder = metrics.NoopClient{}
	if *statsdAddr != "" {
		client, err := metrics.NewClient(*statsdAddr, "legislature")
		if err != nil {
			level.Warn(logger).Log("msg", "statsd client unavailable, continuing without metrics", "err", err)
		} else {
			stats = client
		}
	}

	receiver, err := transport.ListenTCP(fmt.Sprintf("%s:%d", *bindHost, *port))
	if err != nil {
		level.Error(logger).Log("msg", "failed to bind paxos port", "err", err)
		os.Exit(1)
	}
	bootstrapReceiver, err := transport.ListenTCP(fmt.Sprintf("%s:%d", *bindHost, *port+1))
	if err != nil {
		level.Error(logger).Log("msg", "failed to bind bootstrap port", "err", err)
		os.Exit(1)
	}

	p, err := parliament.New(parliament.Config{
		Self:                 self,
		Members:              members,
		LedgerQueue:          ledgerQueue,
		PromisedField:        promisedField,
		AcceptedField:        acceptedField,
		HighestProposedField: highestField,
		ReplicaSetField:      replicaSetField,
		Sender:               &transport.TCPSender{},
		Transferer:           &bootstrap.FileTransferer{},
		UserHandler: func(content []byte) error {
			level.Info(logger).Log("msg", "applied user decree", "bytes", len(content))
			return nil
		},
		LeaseWindow:   *leaseWindow,
		RetryInterval: *retryInterval,
		Pause:         paxos.RandomPause{Max: *pauseMax},
		Logger:        logger,
		Stats:         stats,
	})
	if err != nil {
		level.Error(logger).Log("msg", "failed to assemble parliament", "err", err)
		os.Exit(1)
	}

	go func() {
		if err := bootstrapReceiver.Serve(func(payload []byte) {
			files, err := bootstrap.Receive(bytes.NewReader(payload))
			if err != nil {
				level.Warn(logger).Log("msg", "bootstrap receive failed", "err", err)
				return
			}
			level.Info(logger).Log("msg", "received bootstrap transfer", "files", len(files))
			// Materializing the transferred files onto disk is a disk-
			// format concern this system leaves unspecified (spec §1).
		}); err != nil {
			level.Info(logger).Log("msg", "bootstrap receiver stopped", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "legislator serving", "self", self, "members", len(members))
	if err := receiver.Serve(p.HandleInbound); err != nil {
		level.Info(logger).Log("msg", "receiver stopped", "err", err)
	}
}

func parseReplica(addr string) (paxos.Replica, error) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return paxos.Replica{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return paxos.Replica{}, fmt.Errorf("legislator: invalid port in %q: %w", addr, err)
	}
	return paxos.Replica{Host: host, Port: port}, nil
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("legislator: address %q missing port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

