// aresdig is a simple asynchronous DNS command line client.
//
// Usage:
//
//	aresdig -type A|AAAA|SRV|MX|NS|TXT|PTR|SOA|NAPTR|CAA -name <name>
//	        -server <ip:port> [-server <ip:port> ...]
//	        -timeout <duration> -tries <n> [-tcp] [-verbose]
//
// We drive the resolver with a poll(2) based event loop: the channel
// tells us which sockets to watch and for how long to wait, we wait,
// and we hand readiness back to the channel. With -verbose we emit
// the resolver events as logs on the stderr.
//
// Examples:
//
//	./aresdig -type A -name example.com -server 8.8.8.8:53
//	./aresdig -type SRV -name _xmpp-server._tcp.gmail.com
//	./aresdig -type PTR -name 8.8.8.8 -verbose
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/m-lab/go/rtx"
	"github.com/ooni/ares"
	"github.com/ooni/ares/handlers/logger"
	"github.com/ooni/ares/model"
	"golang.org/x/sys/unix"
)

type serverList []string

func (s *serverList) String() string { return fmt.Sprint(*s) }

func (s *serverList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var flagServers serverList
	var (
		flagHelp    = flag.Bool("h", false, "Print usage")
		flagName    = flag.String("name", "ooni.io", "Name to query for")
		flagTCP     = flag.Bool("tcp", false, "Force queries over TCP")
		flagTimeout = flag.Duration("timeout", 5*time.Second, "Per attempt timeout")
		flagTries   = flag.Int("tries", 3, "Number of attempts")
		flagType    = flag.String("type", "A", "Query type")
		flagVerbose = flag.Bool("verbose", false, "Log resolver events")
	)
	flag.Var(&flagServers, "server", "Nameserver endpoint (repeatable)")
	flag.Parse()
	if *flagHelp {
		flag.CommandLine.SetOutput(os.Stdout)
		fmt.Printf("Usage: aresdig [flags]\n")
		flag.PrintDefaults()
		os.Exit(0)
	}
	if len(flagServers) < 1 {
		flagServers = serverList{"8.8.8.8:53", "1.1.1.1:53"}
	}

	options := &ares.Options{
		Flags:   ares.FlagEDNS,
		Servers: flagServers,
		Timeout: *flagTimeout,
		Tries:   *flagTries,
	}
	if *flagTCP {
		options.Flags |= ares.FlagUseVC
	}
	if *flagVerbose {
		log.SetHandler(cli.Default)
		log.SetLevel(log.DebugLevel)
		options.Handler = logger.NewHandler(log.Log)
	}
	channel, err := ares.NewChannel(options)
	rtx.Must(err, "ares.NewChannel failed")
	defer channel.Destroy()

	pendingQueries := 1
	done := func(v interface{}, err error) {
		pendingQueries--
		if err != nil {
			fmt.Printf("{\"error\": %q}\n", err.Error())
			return
		}
		prettyprint(v)
	}
	switch *flagType {
	case "A":
		channel.QueryA(*flagName, func(r *model.AResults, err error) { done(r, err) })
	case "AAAA":
		channel.QueryAAAA(*flagName, func(r *model.AAAAResults, err error) { done(r, err) })
	case "SRV":
		channel.QuerySRV(*flagName, func(r *model.SRVResults, err error) { done(r, err) })
	case "MX":
		channel.QueryMX(*flagName, func(r *model.MXResults, err error) { done(r, err) })
	case "NS":
		channel.QueryNS(*flagName, func(r *model.NSResults, err error) { done(r, err) })
	case "TXT":
		channel.QueryTXT(*flagName, func(r *model.TXTResults, err error) { done(r, err) })
	case "PTR":
		ip := net.ParseIP(*flagName)
		if ip == nil {
			log.Fatalf("-name must be an IP address for PTR queries")
		}
		channel.QueryPTR(ip, func(r *model.PTRResults, err error) { done(r, err) })
	case "SOA":
		channel.QuerySOA(*flagName, func(r *model.SOAResult, err error) { done(r, err) })
	case "NAPTR":
		channel.QueryNAPTR(*flagName, func(r *model.NAPTRResults, err error) { done(r, err) })
	case "CAA":
		channel.QueryCAA(*flagName, func(r *model.CAAResults, err error) { done(r, err) })
	default:
		log.Fatalf("unsupported query type")
	}

	for pendingQueries > 0 {
		eventLoopOnce(channel)
	}
}

// eventLoopOnce waits for socket readiness or the next resolver
// deadline, then lets the channel process what happened.
func eventLoopOnce(channel *ares.Channel) {
	specs := channel.Sockets()
	timeout := channel.Timeout(time.Second)
	pollfds := make([]unix.PollFd, 0, len(specs))
	for _, spec := range specs {
		var events int16
		if spec.Readable {
			events |= unix.POLLIN
		}
		if spec.Writable {
			events |= unix.POLLOUT
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(spec.FD), Events: events})
	}
	_, err := unix.Poll(pollfds, int(timeout.Milliseconds()))
	if err != nil && err != unix.EINTR {
		rtx.Must(err, "unix.Poll failed")
	}
	var readable, writable []model.SocketID
	for i, pollfd := range pollfds {
		if pollfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			readable = append(readable, specs[i].Socket)
		}
		if pollfd.Revents&unix.POLLOUT != 0 {
			writable = append(writable, specs[i].Socket)
		}
	}
	channel.Process(readable, writable)
}

func prettyprint(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	rtx.Must(err, "json.MarshalIndent failed")
	fmt.Printf("%s\n", string(data))
}
