package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pageexplorer/internal/instruction"
)

var instructionsCmd = &cobra.Command{
	Use:   "instructions [file]",
	Short: "Print the default sequence, or validate a sequence file",
	Long: `Without arguments, prints the default exploration sequence as YAML.
The output is a valid --instructions file and a starting point for
custom sequences.

With a file argument, parses it and prints the decoded instructions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstructions,
}

func runInstructions(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		data, err := instruction.Encode(instruction.Default())
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	seq, err := instruction.LoadFile(args[0])
	if err != nil {
		return err
	}
	for i, ins := range seq {
		fmt.Fprintf(out, "%3d  %s\n", i+1, ins)
	}
	fmt.Fprintf(out, "%d instructions\n", len(seq))
	return nil
}
