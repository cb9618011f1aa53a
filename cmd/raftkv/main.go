// Command raftkv runs one or more Raft nodes from a cluster config
// (server mode) or sends a single command to a cluster (client mode),
// per spec.md §6.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "cluster config file; starts one or more nodes named by the remaining arguments")
	leaderAddr := flag.String("leader", "", "host:port of a cluster node; sends the remaining arguments as a client command")
	flag.Parse()

	switch {
	case *configPath != "" && *leaderAddr != "":
		fmt.Fprintln(os.Stderr, "raftkv: --config and --leader are mutually exclusive")
		os.Exit(1)
	case *configPath != "":
		if err := runServer(*configPath, flag.Args()); err != nil {
			log.Fatal(err)
		}
	case *leaderAddr != "":
		result, err := runClient(*leaderAddr, flag.Args())
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(result)
	default:
		fmt.Fprintln(os.Stderr, "usage: raftkv --config FILE NAME... | raftkv --leader HOST:PORT TOKEN...")
		os.Exit(1)
	}
}

func awaitSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
