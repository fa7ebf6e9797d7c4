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
package main

import (
	"fmt"
	"os"

	"github.com/ostafen/vhdxlens/cmd/cmd"
	"github.com/ostafen/vhdxlens/internal/buildinfo"
)

func main() {
	PrintLogo()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func PrintLogo() {
	fmt.Println(" __      ___         _      _                 ")
	fmt.Println(" \\ \\    / / |_  ____| |_  _| |___ _ _  ___    ")
	fmt.Println("  \\ \\/\\/ /| ' \\/ _` \\ \\ \\/ / / -_) ' \\(_-<    ")
	fmt.Println("   \\_/\\_/ |_||_\\__,_/_/_/\\_\\_\\___|_||_/__/    ")
	fmt.Println()
	fmt.Println("Forensic VHDX container decoder")
	fmt.Println()
	fmt.Printf("Version:    %s\n", buildinfo.Version)
	fmt.Printf("Commit:     %s\n", buildinfo.CommitHash)
	fmt.Printf("Build Time: %s\n", buildinfo.BuildTime)
	fmt.Println(" ")
}
