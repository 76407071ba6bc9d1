// Command rdpclient runs the TCP-over-UDP tunnel client: it multiplexes
// local TCP connections onto one reliable-UDP conversation to a single
// upstream server.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lake2010/BtcTunnel/internal/client"
	"github.com/lake2010/BtcTunnel/internal/config"
	"github.com/lake2010/BtcTunnel/internal/logging"
)

const statsLogInterval = 30 * time.Second

func main() {
	os.Exit(run())
}

// run returns the process exit code: setup (config load, socket create,
// handshake, listener bind) maps any failure to a nonzero exit.
func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logging.New(logging.LevelInfo).Errorf("rdpclient: %v", err)
		return 1
	}

	level := logging.LevelInfo
	if cfg.LogLevel == "debug" {
		level = logging.LevelDebug
	}
	log := logging.New(level)

	c, err := client.New(cfg, log)
	if err != nil {
		log.Errorf("rdpclient: setup failed: %v", err)
		return 1
	}

	if err := c.Connect(); err != nil {
		log.Errorf("rdpclient: %v", err)
		_ = c.Close()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("rdpclient: received %s, shutting down", sig)
		c.Stop()
	}()

	statsDone := make(chan struct{})
	go logStatsPeriodically(c, log, statsDone)

	runErr := c.Run()
	close(statsDone)
	_ = c.Close()
	if runErr != nil {
		log.Errorf("rdpclient: %v", runErr)
		return 1
	}
	return 0
}

// logStatsPeriodically logs a snapshot of the client's counters until done
// is closed, giving operators periodic visibility into session and byte
// throughput without needing a separate metrics endpoint.
func logStatsPeriodically(c *client.Client, log *logging.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := c.Stats()
			log.Infof("rdpclient: stats sessions_opened=%d sessions_closed=%d bytes_upstream=%d bytes_downstream=%d handshake_retries=%d",
				s.SessionsOpened, s.SessionsClosed, s.BytesUpstream, s.BytesDownstream, s.HandshakeRetries)
		case <-done:
			return
		}
	}
}
