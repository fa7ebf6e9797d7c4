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
	"path/filepath"
	"strings"

	"github.com/ostafen/vhdxlens/internal/chain"
	"github.com/ostafen/vhdxlens/internal/fuse"
	utilos "github.com/ostafen/vhdxlens/pkg/util/os"
	"github.com/spf13/cobra"
)

func DefineMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <vhdx_path>",
		Short: "Mount a resolved VHDX chain as a flattened virtual disk file",
		Long: `The 'mount' command resolves a VHDX file's differencing chain and exposes
the composited virtual disk as a single read-only file under a FUSE
mountpoint, for reading with standard tools (e.g. a partition-aware loop
mount of the exposed file) without first materializing it on disk.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunMount,
	}
	addOpenFlags(cmd)
	cmd.Flags().StringP("mountpoint", "m", "", "directory to mount under; created if missing (default: derived from the input name)")
	cmd.Flags().String("name", "disk.raw", "name of the exposed file within the mountpoint")
	return cmd
}

func RunMount(cmd *cobra.Command, args []string) error {
	opts, err := parseOpenOptions(cmd)
	if err != nil {
		return err
	}

	c, err := chain.Load(args[0], opts)
	if err != nil {
		return err
	}
	defer c.Close()

	mountpoint, _ := cmd.Flags().GetString("mountpoint")
	if mountpoint == "" {
		mountpoint = defaultMountpoint(args[0])
	}
	if _, err := utilos.EnsureDir(mountpoint, true); err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")

	ra := chain.NewReaderAt(c)
	return fuse.Mount(mountpoint, name, ra, ra.Size())
}

// defaultMountpoint derives a mountpoint directory name from the input
// path's basename, stripping its extension.
func defaultMountpoint(inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	base = strings.TrimSuffix(base, ext)
	return base + "_mnt"
}
