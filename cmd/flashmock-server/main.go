package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/flashmock/flashmock/pkg/flash"
	"github.com/flashmock/flashmock/pkg/server"
)

func main() {
	var (
		image     = flag.String("image", "./flash.img", "flash image file")
		address   = flag.String("addr", ":4270", "server address")
		capacity  = flag.Int64("capacity", 16*1024*1024, "flash capacity in bytes")
		readGran  = flag.Int64("read-gran", 1, "read granularity in bytes")
		writeGran = flag.Int64("write-gran", 1, "write granularity in bytes")
		eraseGran = flag.Int64("erase-gran", 4096, "erase granularity in bytes")
		inMemory  = flag.Bool("memory", false, "use an in-memory image")
		useMmap   = flag.Bool("mmap", false, "memory-map the image file")
		noSync    = flag.Bool("no-sync", false, "skip flushing after every write/erase")
	)
	flag.Parse()

	opts := &flash.Options{
		Capacity:         *capacity,
		ReadGranularity:  *readGran,
		WriteGranularity: *writeGran,
		EraseGranularity: *eraseGran,
		InMemory:         *inMemory,
		Mmap:             *useMmap,
		SyncWrites:       !*noSync,
	}

	f, err := flash.Open(*image, opts)
	if err != nil {
		log.Fatalf("Failed to open flash image: %v", err)
	}
	defer f.Close()

	log.Printf("flashmock server starting...")
	if *inMemory {
		log.Printf("Image: in-memory")
	} else {
		log.Printf("Image: %s", *image)
	}
	log.Printf("Geometry: capacity=%d read=%d write=%d erase=%d",
		*capacity, *readGran, *writeGran, *eraseGran)
	log.Printf("Listening on: %s", *address)

	srv := server.New(f)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		srv.Close()
	}()

	if err := srv.Listen(*address); err != nil {
		log.Printf("Server error: %v", err)
	}
}
