package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flashmock/flashmock/pkg/flash"
	"github.com/flashmock/flashmock/pkg/storage"
)

var (
	flagHelp       bool
	flagInMemory   bool
	flagPath       string
	flagCapacity   int64
	flagEraseGran  int64
	flagChunk      int64
	flagWorkers    int
	flagBenchmarks string
)

func init() {
	flag.BoolVar(&flagHelp, "help", false, "Show help")
	flag.BoolVar(&flagHelp, "h", false, "Show help (short)")
	flag.BoolVar(&flagInMemory, "memory", true, "Use an in-memory image")
	flag.StringVar(&flagPath, "path", "bench.img", "Image file path")
	flag.Int64Var(&flagCapacity, "capacity", 16*1024*1024, "Flash capacity in bytes")
	flag.Int64Var(&flagEraseGran, "erase-gran", 4096, "Erase granularity in bytes")
	flag.Int64Var(&flagChunk, "chunk", 4096, "Operation size in bytes")
	flag.IntVar(&flagWorkers, "workers", 4, "Concurrent readers for the parallel-read benchmark")
	flag.StringVar(&flagBenchmarks, "bench", "all", "Benchmarks to run: all, erase, write, read, rewrite, parallel-read")
}

func main() {
	flag.Parse()

	if flagHelp {
		printHelp()
		os.Exit(0)
	}

	runBenchmarks()
}

func printHelp() {
	fmt.Print(`
flashmock Benchmark Tool

Usage:
  flashmock-bench [options]

Options:
  -h, -help           Show this help message
  -memory             Use an in-memory image (default: true)
  -path <path>        Image file path (when -memory=false)
  -capacity <n>       Flash capacity in bytes
  -erase-gran <n>     Erase granularity in bytes
  -chunk <n>          Operation size in bytes
  -workers <n>        Concurrent readers for parallel-read
  -bench <name>       Benchmark to run: all, erase, write, read, rewrite, parallel-read

Examples:
  flashmock-bench
  flashmock-bench -capacity 67108864 -chunk 65536
  flashmock-bench -memory=false -path flash.img -bench rewrite
`)
}

func runBenchmarks() {
	fmt.Printf("flashmock Benchmark Tool\n")
	fmt.Printf("========================\n")
	fmt.Printf("Capacity: %d\n", flagCapacity)
	fmt.Printf("Erase granularity: %d\n", flagEraseGran)
	fmt.Printf("Chunk: %d\n", flagChunk)
	fmt.Printf("Mode: %s\n", func() string {
		if flagInMemory {
			return "in-memory"
		}
		return "disk"
	}())
	fmt.Println()

	opts := &flash.Options{
		Capacity:         flagCapacity,
		ReadGranularity:  1,
		WriteGranularity: 1,
		EraseGranularity: flagEraseGran,
		InMemory:         flagInMemory,
		SyncWrites:       false,
	}

	f, err := flash.Open(flagPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open flash: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	all := flagBenchmarks == "all"

	if all || flagBenchmarks == "erase" {
		benchErase(f)
	}
	if all || flagBenchmarks == "write" {
		benchWrite(f)
	}
	if all || flagBenchmarks == "read" {
		benchRead(f)
	}
	if all || flagBenchmarks == "rewrite" {
		benchRewrite(f)
	}
	if all || flagBenchmarks == "parallel-read" {
		benchParallelRead(f)
	}
}

func report(name string, bytes int64, elapsed time.Duration) {
	mbps := float64(bytes) / elapsed.Seconds() / (1024 * 1024)
	fmt.Printf("%-14s %10d bytes in %8.3fs  %8.2f MiB/s\n",
		name, bytes, elapsed.Seconds(), mbps)
}

func benchErase(f *flash.Flash) {
	start := time.Now()
	if err := f.Erase(0, f.Capacity()); err != nil {
		fmt.Fprintf(os.Stderr, "erase failed: %v\n", err)
		os.Exit(1)
	}
	report("erase", f.Capacity(), time.Since(start))
}

func benchWrite(f *flash.Flash) {
	chunk := makePattern(flagChunk)

	// The image was just erased by benchErase when running "all";
	// otherwise erase here so raw writes are legal.
	if err := f.Erase(0, f.Capacity()); err != nil {
		fmt.Fprintf(os.Stderr, "erase failed: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	for off := int64(0); off < f.Capacity(); off += flagChunk {
		if err := f.Write(off, chunk); err != nil {
			fmt.Fprintf(os.Stderr, "write at %d failed: %v\n", off, err)
			os.Exit(1)
		}
	}
	report("write", f.Capacity(), time.Since(start))
}

func benchRead(f *flash.Flash) {
	buf := make([]byte, flagChunk)

	start := time.Now()
	for off := int64(0); off < f.Capacity(); off += flagChunk {
		if err := f.Read(off, buf); err != nil {
			fmt.Fprintf(os.Stderr, "read at %d failed: %v\n", off, err)
			os.Exit(1)
		}
	}
	report("read", f.Capacity(), time.Since(start))
}

// benchRewrite measures auto-erase writes over already-written content,
// the worst case for the adapter (read + erase + rewrite per block).
func benchRewrite(f *flash.Flash) {
	store := storage.New(f)
	chunk := makePattern(flagChunk)

	start := time.Now()
	for off := int64(0); off < f.Capacity(); off += flagChunk {
		if err := store.Write(off, chunk); err != nil {
			fmt.Fprintf(os.Stderr, "rewrite at %d failed: %v\n", off, err)
			os.Exit(1)
		}
	}
	report("rewrite", f.Capacity(), time.Since(start))
}

// benchParallelRead issues reads from several goroutines. The engine
// serializes them on its mutex; this measures the locking overhead, not
// real parallelism.
func benchParallelRead(f *flash.Flash) {
	var g errgroup.Group

	share := f.Capacity() / int64(flagWorkers)
	share -= share % flagChunk

	start := time.Now()
	for w := 0; w < flagWorkers; w++ {
		base := int64(w) * share
		g.Go(func() error {
			buf := make([]byte, flagChunk)
			for off := base; off < base+share; off += flagChunk {
				if err := f.Read(off, buf); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "parallel read failed: %v\n", err)
		os.Exit(1)
	}
	report("parallel-read", share*int64(flagWorkers), time.Since(start))
}

func makePattern(n int64) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}
