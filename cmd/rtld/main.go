// Command rtld is a freestanding demonstration front-end for the loader
// core: point it at an ELF executable and it drives spec.md §4.E's full
// bootstrap sequence (dependency graph, TLS layout, relocation, RELRO,
// initializers) against it and reports what it resolved, without actually
// transferring control to the target's entry point.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/xyproto/rtld/internal/arch"
	"github.com/xyproto/rtld/internal/auxv"
	"github.com/xyproto/rtld/internal/dso"
	"github.com/xyproto/rtld/internal/linker"
	"github.com/xyproto/rtld/internal/rtlderr"
)

const versionString = "rtld 0.1.0"

func main() {
	var archFlag = flag.String("arch", runtime.GOARCH, "target architecture (amd64, arm64, riscv64)")
	var searchDir = flag.String("search-dir", "/lib", "single fixed directory DT_NEEDED dependencies are resolved from")
	var verbose = flag.Bool("v", false, "verbose mode (log unresolved symbols and unknown relocations)")
	var versionFlag = flag.Bool("version", false, "print version information and exit")
	var selfAuxv = flag.Bool("self-auxv", false, "print this process's own AT_PHDR/AT_PHNUM/AT_ENTRY from /proc/self/auxv and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(versionString)
		return
	}

	rtlderr.SetDebug(*verbose)
	watchInterrupt()

	if *selfAuxv {
		printSelfAuxv()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: rtld [flags] <executable>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	a, err := arch.Parse(*archFlag)
	if err != nil {
		rtlderr.Abort("main", err)
	}

	mainPath := args[0]
	mainObj, err := dso.FromPath(filepath.Base(mainPath), filepath.Dir(mainPath), a)
	if err != nil {
		rtlderr.Abort("main", err)
	}

	state, err := linker.New(a, *searchDir)
	if err != nil {
		rtlderr.Abort("main", err)
	}

	if err := state.Link(mainObj); err != nil {
		rtlderr.Abort("main", err)
	}

	fmt.Printf("loaded %d object(s):\n", len(state.Objects))
	for _, obj := range state.Objects {
		fmt.Printf("  %-24s base=%#x\n", obj.Name, uint64(obj.Base))
	}
}

// watchInterrupt reports a clean diagnostic and exits on SIGINT/SIGTERM
// instead of leaving a raw stack trace, mirroring the teacher's
// watchAndRecompile signal-handler setup (SIGUSR1) retargeted to the two
// signals this non-interactive driver actually needs to react to.
func watchInterrupt() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-ch
		fmt.Fprintf(os.Stderr, "rtld: interrupted by %v\n", sig)
		os.Exit(130)
	}()
}

// printSelfAuxv reads this running process's own auxiliary vector the
// portable way (/proc/self/auxv), the only route available once the Go
// runtime has already started and claimed the real initial stack pointer
// for itself — FromInitialStack needs the raw sp a freestanding entry
// stub gets, which this binary never has.
func printSelfAuxv() {
	v, err := auxv.ParseProcSelfAuxv()
	if err != nil {
		rtlderr.Abort("main", err)
	}
	for _, tag := range []struct {
		name string
		val  uint64
	}{{"AT_PHDR", auxv.Phdr}, {"AT_PHNUM", auxv.Phnum}, {"AT_ENTRY", auxv.EntryPoint}, {"AT_PAGESZ", auxv.Pagesz}} {
		if got, ok := v.Lookup(tag.val); ok {
			fmt.Printf("%-10s %#x\n", tag.name, got)
		}
	}
}
