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
	"os"

	"github.com/ostafen/vhdxlens/internal/logger"
	"github.com/ostafen/vhdxlens/internal/vhdx"
	"github.com/ostafen/vhdxlens/pkg/util/format"
	"github.com/spf13/cobra"
)

// addOpenFlags registers the flags shared by every subcommand that opens a
// VHDX container: tolerance mode, fallback metadata, and the inferred-size
// ceiling.
func addOpenFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("ignore-faults", false, "tolerate recoverable structural faults instead of failing")
	cmd.Flags().String("max-inferred-size", "", "ceiling on an inferred virtual disk size (e.g. 512GB)")
	cmd.Flags().String("log-level", "INFO", "log level for tolerant-mode warnings (DEBUG, INFO, WARN, ERROR)")

	cmd.Flags().Uint32("fallback-logical-sector-size", 0, "logical sector size to assume if the metadata region is unreadable")
	cmd.Flags().Uint32("fallback-physical-sector-size", 0, "physical sector size to assume if the metadata region is unreadable")
	cmd.Flags().Uint32("fallback-block-size", 0, "block size to assume if the metadata region is unreadable")
	cmd.Flags().Bool("fallback-has-parent", false, "assume the file is differencing if the metadata region is unreadable")
	cmd.Flags().Bool("mmap", false, "memory-map the input file instead of issuing a syscall per read (Linux only)")
}

// parseOpenOptions translates the flags registered by addOpenFlags into a
// vhdx.OpenOptions.
func parseOpenOptions(cmd *cobra.Command) (vhdx.OpenOptions, error) {
	ignoreFaults, _ := cmd.Flags().GetBool("ignore-faults")
	logLevelStr, _ := cmd.Flags().GetString("log-level")

	useMmap, _ := cmd.Flags().GetBool("mmap")

	opts := vhdx.OpenOptions{
		IgnoreFaults: ignoreFaults,
		Log:          logger.New(os.Stderr, logger.ParseLevel(logLevelStr)),
		UseMmap:      useMmap,
	}

	if s, _ := cmd.Flags().GetString("max-inferred-size"); s != "" {
		n, err := format.ParseBytes(s)
		if err != nil {
			return opts, err
		}
		opts.MaxInferredSize = uint64(n)
	}

	logicalSS, _ := cmd.Flags().GetUint32("fallback-logical-sector-size")
	physSS, _ := cmd.Flags().GetUint32("fallback-physical-sector-size")
	blockSize, _ := cmd.Flags().GetUint32("fallback-block-size")
	hasParent, _ := cmd.Flags().GetBool("fallback-has-parent")

	if logicalSS != 0 || physSS != 0 || blockSize != 0 {
		opts.FallbackMetas = &vhdx.FallbackMetas{
			LogicalSectorSize:  logicalSS,
			PhysicalSectorSize: physSS,
			BlockSize:          blockSize,
			HasParent:          hasParent,
		}
	}

	return opts, nil
}
