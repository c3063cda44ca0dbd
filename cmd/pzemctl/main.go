// cmd/pzemctl/main.go
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitSuccess      = 0
	exitCommandError = 1
	exitDeviceError  = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitCommandError)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var exitCode int
	switch cmd {
	case "read":
		exitCode = runRead(args, os.Stdout, os.Stderr)
	case "params":
		exitCode = runParams(args, os.Stdout, os.Stderr)
	case "set-shunt":
		exitCode = runSetShunt(args, os.Stdout, os.Stderr)
	case "set-address":
		exitCode = runSetAddress(args, os.Stdout, os.Stderr)
	case "set-thresholds":
		exitCode = runSetThresholds(args, os.Stdout, os.Stderr)
	case "reset-energy":
		exitCode = runResetEnergy(args, os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		printUsage()
		exitCode = exitSuccess
	case "version", "-v", "--version":
		fmt.Printf("pzemctl version %s\n", version)
		exitCode = exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		exitCode = exitCommandError
	}

	os.Exit(exitCode)
}

func printUsage() {
	fmt.Println(`pzemctl - PZEM-017 maintenance tool

Usage:
  pzemctl <command> -config <config.yaml> -device <id> [options]

Commands:
  read            Read one measurement (-all sweeps every configured device)
  params          Read thresholds, slave address and shunt code
  set-shunt       Write the shunt code (-shunt 50A|100A|200A|300A)
  set-address     Write a new slave address (-address 1-247)
                  -broadcast [-bus id] programs a unit whose address is unknown
  set-thresholds  Write alarm thresholds (-high V -low V)
  reset-energy    Clear the energy counter

Options:
  -format text|json|yaml   Output format for read and params (default text)

Stop pzem-poller before using pzemctl on the same serial port.`)
}
