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
	"github.com/ostafen/vhdxlens/pkg/util/format"
	"github.com/spf13/cobra"
)

func DefineInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <vhdx_path>",
		Short: "Print header, region table, and metadata fields of a VHDX file",
		Long: `The 'info' command decodes and prints the structural regions of a VHDX
container: the current header (sequence number, log descriptor), the region
table (BAT and metadata region locations), and the well-known metadata
fields (block size, sector sizes, virtual disk size, parent locator).`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunInfo,
	}
	addOpenFlags(cmd)
	return cmd
}

func RunInfo(cmd *cobra.Command, args []string) error {
	opts, err := parseOpenOptions(cmd)
	if err != nil {
		return err
	}

	c, err := vhdx.Open(args[0], opts)
	if err != nil {
		return err
	}
	defer c.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "== header ==")
	h := c.Header()
	fmt.Fprintf(w, "sequence\t%d\n", h.Sequence)
	fmt.Fprintf(w, "version\t%d\n", h.Version)
	fmt.Fprintf(w, "log_version\t%d\n", h.LogVersion)
	fmt.Fprintf(w, "has_log\t%v\n", h.HasLog())
	fmt.Fprintf(w, "log_offset\t%d\n", h.LogOffset)
	fmt.Fprintf(w, "log_length\t%d\n", h.LogLength)
	if guid, err := vhdx.BlobToGuid(h.FileWriteGuid); err == nil {
		fmt.Fprintf(w, "file_write_guid\t%s\n", guid)
	}
	if guid, err := vhdx.BlobToGuid(h.DataWriteGuid); err == nil {
		fmt.Fprintf(w, "data_write_guid\t%s\n", guid)
	}

	fmt.Fprintln(w, "== region table ==")
	for _, e := range c.RegionTable() {
		guid, _ := vhdx.BlobToGuid(e.Guid)
		fmt.Fprintf(w, "%s\toffset=%d\tlength=%s\trequired=%v\n", guid, e.Offset, format.FormatBytes(int64(e.Length)), e.Required)
	}

	fmt.Fprintln(w, "== metadata ==")
	fmt.Fprintf(w, "block_size\t%s\n", format.FormatBytes(int64(c.BlockSize())))
	fmt.Fprintf(w, "logical_sector_size\t%d\n", c.LogicalSectorSize())
	fmt.Fprintf(w, "physical_sector_size\t%d\n", c.PhysicalSectorSize())
	fmt.Fprintf(w, "virtual_disk_size\t%s\n", format.FormatBytes(int64(c.VirtualDiskSize())))
	fmt.Fprintf(w, "is_differencing\t%v\n", c.IsDifferencing())
	fmt.Fprintf(w, "used_fallback_metas\t%v\n", c.UsedFallbackMetas())
	if len(c.Metas().ParentLocator) > 0 {
		fmt.Fprintln(w, "parent_locator:")
		for k, v := range c.Metas().ParentLocator {
			fmt.Fprintf(w, "  %s\t%s\n", k, v)
		}
	}

	return w.Flush()
}
