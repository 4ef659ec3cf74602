package main

import (
	"fmt"
	"io"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it.
var startServer = runServer

// Run dispatches a CLI invocation and returns the exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "fingerprint":
		return runFingerprintCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "truthtag %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sTruthTag %s%s\n", colorBold+colorBlue, version, colorReset)
	_, _ = fmt.Fprintf(w, "%sContent provenance: fingerprint, classify, record.%s\n", colorGray, colorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	_, _ = fmt.Fprintln(w, "  truthtag <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "SERVICE")
	printCommand(w, "serve", "Run the verification API (default)")
	printCommand(w, "health", "Check a running server (--url)")
	printCommand(w, "doctor", "Check configuration and dependencies (--json)")

	printSection(w, "UTILITIES")
	printCommand(w, "fingerprint", "Print SHA-256 and CIDv1 of a file or hex digest")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", colorGreen, name, colorReset, desc)
}
