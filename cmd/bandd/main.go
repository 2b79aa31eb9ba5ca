package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		return runListen([]string{}, stdout, stderr)
	}

	switch args[0] {
	case "listen":
		return runListen(args[1:], stdout, stderr)
	case "replay":
		return runReplay(args[1:], stdout, stderr)
	case "send":
		return runSend(args[1:], stdout, stderr)
	case "monitor":
		return runMonitor(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") {
			return runListen(args, stdout, stderr)
		}
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitCode maps a component error to a process exit status. Cancellation is a
// clean shutdown.
func exitCode(stderr io.Writer, err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintln(stderr, "bandd:", err)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  bandd [listen] [--config bandwire.toml] [--udp host:port | --tcp host:port] [--record out.jsonl]")
	fmt.Fprintln(w, "                 [--foxglove] [--ws host:port] [--metrics host:port] [--stats 1s] [--log-level info] [--log-format text]")
	fmt.Fprintln(w, "  bandd replay   --pcap capture.pcap [--port 8080] [--realtime] [--speed 1] [listen flags]")
	fmt.Fprintln(w, "  bandd send     [--addr host:port] [--hz 60] [--bands 64] [--count 0] [--bad-every 0] [--pcap out.pcap]")
	fmt.Fprintln(w, "  bandd monitor  [listen flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  listen   receive spectrum datagrams and report rates (default)")
	fmt.Fprintln(w, "  replay   feed a pcap capture through the receive pipeline")
	fmt.Fprintln(w, "  send     generate a synthetic spectrum stream")
	fmt.Fprintln(w, "  monitor  interactive terminal view of the live stream")
}
