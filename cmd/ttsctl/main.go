// Command ttsctl is an offline toolbox for the tts-uploader: it signs upload
// parameters, previews batch plans and validates scripts and voices.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp(out io.Writer, getenv func(string) string) *cli.App {
	return &cli.App{
		Name:      "ttsctl",
		Usage:     "Inspect and debug tts-uploader inputs.",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			signCommand(getenv),
			cursorCommand(),
			planCommand(),
			validateScriptCommand(),
			validateVoicesCommand(getenv),
			classifyCommand(),
		},
	}
}

func main() {
	err := newApp(os.Stdout, os.Getenv).Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ttsctl: %v\n", err)
		os.Exit(1)
	}
}
