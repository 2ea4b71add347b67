package main

import (
	"fmt"
	"os"

	"github.com/gmsas95/paperflow/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version

	if len(os.Args) < 2 {
		cli.PrintExtendedHelp()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "scan":
		cli.HandleScanCommand(args)
	case "watch":
		cli.HandleWatchCommand(args, true)
	case "serve":
		cli.HandleWatchCommand(args, false)
	case "reprocess":
		cli.HandleReprocessCommand(args)
	case "list", "ls":
		cli.HandleListCommand(args)
	case "show":
		cli.HandleShowCommand(args)
	case "apply":
		cli.HandleApplyCommand(args)
	case "validate":
		cli.HandleValidateCommand(args)
	case "supersede":
		cli.HandleSupersedeCommand(args)
	case "confirm":
		cli.HandleConfirmCommand(args)
	case "correct":
		cli.HandleCorrectCommand(args)
	case "suggestions":
		cli.HandleSuggestionsCommand(args)
	case "catalog":
		cli.HandleCatalogCommand(args)
	case "status":
		cli.HandleStatusCommand(args)
	case "doctor":
		cli.HandleDoctorCommand(args)
	case "config":
		cli.HandleConfigCommand(args)
	case "token":
		cli.HandleTokenCommand(args)
	case "help", "--help", "-h":
		cli.PrintExtendedHelp()
	case "version", "--version", "-v":
		fmt.Printf("paperflow version %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		cli.PrintExtendedHelp()
		os.Exit(1)
	}
}
