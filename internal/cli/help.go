package cli

import "fmt"

func PrintExtendedHelp() {
	fmt.Printf(`paperflow %s - document intake, splitting and classification

Usage: paperflow <command> [flags] [args]

Intake:
  scan                          Scan the watch folder once
  watch                         Watch the folder, run the schedule and the review API
  serve                         Run the schedule and the review API without watching
  reprocess [flags] <id>...     Re-run split and classification (--all for errored)

Review:
  list [--status s]             List documents, needs_review by default
  show <id>                     Show a document with its extracted values
  apply <id>                    Apply the stored suggestion
  validate [flags] <id>         Validate and file a document
  supersede <id>                Retire a document so its file can be imported again

Learning:
  confirm <id> <field>          Confirm an extracted value
  correct <id> <field> <value>  Correct an extracted value
  suggestions <field>           Show learned values for a field

Setup:
  catalog <file.yaml>           Load fields, correspondents, types and tags
  status                        Show queue counts and the AI provider
  doctor                        Check external tools and AI backends
  config get|path|show          Inspect configuration
  token [--subject s]           Issue a review API bearer token
  version                       Print the version

Every command accepts --config, --data and --json.
`, Version)
}

func PrintConfigHelp() {
	fmt.Println("Usage: paperflow config <get|path|show> [flags]")
	fmt.Println()
	fmt.Println("  get <key>   Print one resolved value")
	fmt.Println("  path        Print the config file location")
	fmt.Println("  show        Print the config file")
	fmt.Println()
	fmt.Printf("Keys: %s\n", joinKeys())
}

func PrintReprocessHelp() {
	fmt.Println("Usage: paperflow reprocess [flags] <document-id>...")
	fmt.Println("       paperflow reprocess --all [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --all          Reprocess every document in error")
	fmt.Println("  -c <n>         Concurrent documents")
	fmt.Println("  -t <duration>  Timeout per document")
	fmt.Println("  --retries <n>  Retries for transient failures")
	fmt.Println("  -o <file>      Write a report (.json for JSON)")
}
