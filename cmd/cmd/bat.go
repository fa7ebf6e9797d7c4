// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ostafen/vhdxlens/internal/vhdx"
	"github.com/spf13/cobra"
)

func DefineBatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bat <vhdx_path>",
		Short: "Dump the payload block allocation table entries of a VHDX file",
		Long: `The 'bat' command walks the block allocation table, printing the state and
file offset of every payload entry in payload order (sector-bitmap entries
are skipped, matching the logical block ordering of the virtual disk).`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunBat,
	}
	addOpenFlags(cmd)
	cmd.Flags().Int("limit", 0, "stop after printing this many entries (0 = no limit)")
	return cmd
}

func RunBat(cmd *cobra.Command, args []string) error {
	opts, err := parseOpenOptions(cmd)
	if err != nil {
		return err
	}

	c, err := vhdx.Open(args[0], opts)
	if err != nil {
		return err
	}
	defer c.Close()

	limit, _ := cmd.Flags().GetInt("limit")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTATE\tOFFSET")

	it := c.IterBatPayloadEntries()
	for i := 0; ; i++ {
		if limit > 0 && i >= limit {
			break
		}
		entry, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", i, batStateName(entry.State), entry.Offset)
	}
	return w.Flush()
}

func batStateName(s vhdx.BatState) string {
	switch s {
	case vhdx.BatNotPresent:
		return "NotPresent"
	case vhdx.BatUndefined:
		return "Undefined"
	case vhdx.BatZero:
		return "Zero"
	case vhdx.BatUnmapped:
		return "Unmapped"
	case vhdx.BatFullyPresent:
		return "FullyPresent"
	case vhdx.BatPartiallyPresent:
		return "PartiallyPresent"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}
