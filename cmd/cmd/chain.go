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

	"github.com/ostafen/vhdxlens/internal/chain"
	"github.com/ostafen/vhdxlens/pkg/dfxml"
	"github.com/spf13/cobra"
)

func DefineChainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <vhdx_path>",
		Short: "Walk a differencing-disk chain and print each layer's geometry",
		Long: `The 'chain' command resolves a VHDX file's parent locator chain, printing
one line per layer (base first) with its kind (base or overlay), logical
sector size and virtual disk size. With
--report, it emits a DFXML document describing each layer as a fileobject
with one byte_run per contiguous allocated extent.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunChain,
	}
	addOpenFlags(cmd)
	cmd.Flags().String("report", "", "write a DFXML report of the chain's allocated extents to this path")
	return cmd
}

func RunChain(cmd *cobra.Command, args []string) error {
	opts, err := parseOpenOptions(cmd)
	if err != nil {
		return err
	}

	c, err := chain.Load(args[0], opts)
	if err != nil {
		return err
	}
	defer c.Close()

	for i, layer := range c.Layers() {
		kind := "base"
		if layer.IsDifferencing() {
			kind = "overlay"
		}
		fmt.Printf("layer %d [%s]: logical_sector_size=%d virtual_disk_size=%d\n",
			i, kind, layer.LogicalSectorSize(), layer.VirtualDiskSize())
	}

	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath == "" {
		return nil
	}
	return writeChainReport(reportPath, args[0], c)
}

func writeChainReport(path, source string, c *chain.Chain) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := dfxml.NewDFXMLWriter(f)
	if err := w.WriteHeader(dfxml.DFXMLHeader{
		XmlOutput: dfxml.XmlOutputVersion,
		Metadata:  dfxml.DefaultMetadata,
		Creator: dfxml.Creator{
			Package:              AppName,
			ExecutionEnvironment: dfxml.GetExecEnv(),
		},
		Source: dfxml.Source{
			ImageFilename: source,
			SectorSize:    int(c.Layers()[0].LogicalSectorSize()),
			ImageSize:     c.Layers()[0].VirtualDiskSize(),
		},
	}); err != nil {
		return err
	}

	for i, layer := range c.Layers() {
		runs, err := allocatedRuns(layer)
		if err != nil {
			return err
		}
		if err := w.WriteFileObject(dfxml.FileObject{
			Filename: fmt.Sprintf("layer-%d", i),
			FileSize: layer.VirtualDiskSize(),
			ByteRuns: dfxml.ByteRuns{Runs: runs},
		}); err != nil {
			return err
		}
	}
	return w.Close()
}

// allocatedRuns scans layer's entire sector range and groups contiguous
// allocated sectors into byte_run extents, logical-offset addressed (this
// layer's own allocation, not the resolved chain's).
func allocatedRuns(layer chain.Layer) ([]dfxml.ByteRun, error) {
	sectorSize := uint64(layer.LogicalSectorSize())
	sectorCount := layer.VirtualDiskSize() / sectorSize

	var runs []dfxml.ByteRun
	var runStart uint64
	inRun := false

	flush := func(end uint64) {
		if inRun {
			runs = append(runs, dfxml.ByteRun{
				Offset: runStart * sectorSize,
				Length: (end - runStart) * sectorSize,
			})
			inRun = false
		}
	}

	for s := uint64(0); s < sectorCount; s++ {
		allocated, err := sectorAllocated(layer, s)
		if err != nil {
			return nil, err
		}
		if allocated && !inRun {
			runStart = s
			inRun = true
		} else if !allocated && inRun {
			flush(s)
		}
	}
	flush(sectorCount)
	return runs, nil
}

func sectorAllocated(layer chain.Layer, sector uint64) (bool, error) {
	if !layer.IsDifferencing() {
		return true, nil
	}
	return layer.IsSectorAllocated(sector)
}
