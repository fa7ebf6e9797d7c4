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
	"io"
	"os"

	"github.com/ostafen/vhdxlens/internal/chain"
	"github.com/ostafen/vhdxlens/pkg/pbar"
	utilio "github.com/ostafen/vhdxlens/pkg/util/io"
	"github.com/spf13/cobra"
)

func DefineExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <vhdx_path> <out_path>",
		Short: "Flatten a resolved VHDX chain into a single raw disk image",
		Long: `The 'extract' command resolves a VHDX file's differencing chain and writes
the fully-composited logical sector stream to out_path, reading each
allocated sector from the topmost layer that has it and falling back to the
base image (or zero-fill) otherwise.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunExtract,
	}
	addOpenFlags(cmd)
	cmd.Flags().Bool("progress", true, "print a progress bar to stderr while extracting")
	return cmd
}

func RunExtract(cmd *cobra.Command, args []string) error {
	opts, err := parseOpenOptions(cmd)
	if err != nil {
		return err
	}

	c, err := chain.Load(args[0], opts)
	if err != nil {
		return err
	}
	defer c.Close()

	showProgress, _ := cmd.Flags().GetBool("progress")

	ra := chain.NewReaderAt(c)
	total := int64(ra.Size())

	if !showProgress {
		return utilio.CopyFile(args[1], io.NewSectionReader(ra, 0, total))
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", args[1], err)
	}
	defer out.Close()

	bar := pbar.NewProgressBarState(total)

	const chunkSize = 1 << 20
	buf := make([]byte, chunkSize)

	var written int64
	for written < total {
		n, err := ra.ReadAt(buf, written)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			bar.ProcessedBytes = written
			bar.Render(false)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	bar.ProcessedBytes = written
	bar.Render(true)
	bar.Finish()
	return nil
}
