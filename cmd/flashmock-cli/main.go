package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/flashmock/flashmock/pkg/client"
)

func main() {
	serverAddr := "localhost:4270"
	if len(os.Args) > 1 {
		serverAddr = os.Args[1]
	}

	fmt.Println("flashmock CLI")
	fmt.Printf("Connecting to %s...\n", serverAddr)

	c, err := client.Dial(serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Println("Connected. Type 'help' for commands, 'exit' to quit.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("flash> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		if err := runCommand(c, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func runCommand(c *client.Client, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()
		return nil

	case "ping":
		if err := c.Ping(); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil

	case "info":
		info, err := c.GetInfo()
		if err != nil {
			return err
		}
		fmt.Printf("capacity:          %d\n", info.Capacity)
		fmt.Printf("read granularity:  %d\n", info.ReadGranularity)
		fmt.Printf("write granularity: %d\n", info.WriteGranularity)
		fmt.Printf("erase granularity: %d\n", info.EraseGranularity)
		return nil

	case "read", "dump":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <offset> <length>", cmd)
		}
		off, err := parseNum(args[0])
		if err != nil {
			return err
		}
		length, err := parseNum(args[1])
		if err != nil {
			return err
		}
		data, err := c.Read(off, length)
		if err != nil {
			return err
		}
		if cmd == "dump" {
			fmt.Print(hex.Dump(data))
		} else {
			fmt.Printf("%x\n", data)
		}
		return nil

	case "write", "store":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <offset> <hex-data>", cmd)
		}
		off, err := parseNum(args[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("bad hex data: %w", err)
		}
		// "store" goes through the auto-erase path; "write" is a raw
		// engine write that needs the range erased.
		if err := c.Write(off, data, cmd == "store"); err != nil {
			return err
		}
		fmt.Printf("wrote %d bytes at 0x%x\n", len(data), off)
		return nil

	case "erase":
		if len(args) != 2 {
			return fmt.Errorf("usage: erase <offset> <length>")
		}
		off, err := parseNum(args[0])
		if err != nil {
			return err
		}
		length, err := parseNum(args[1])
		if err != nil {
			return err
		}
		if err := c.Erase(off, length); err != nil {
			return err
		}
		fmt.Printf("erased [0x%x, 0x%x)\n", off, off+length)
		return nil

	case "fingerprint":
		fp, err := c.Fingerprint()
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", fp)
		return nil

	case "sync":
		if err := c.Sync(); err != nil {
			return err
		}
		fmt.Println("synced")
		return nil

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// parseNum accepts decimal or 0x-prefixed hex
func parseNum(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v, nil
}

func printHelp() {
	fmt.Print(`Commands:
  info                      show flash geometry
  read <offset> <length>    read bytes, print as hex
  dump <offset> <length>    read bytes, print as hexdump
  write <offset> <hex>      raw write (target range must be erased)
  store <offset> <hex>      auto-erase write (read-modify-write)
  erase <offset> <length>   erase a range to 0xFF
  fingerprint               print the BLAKE2b-256 digest of the image
  sync                      flush the image
  ping                      check the connection
  exit                      quit
`)
}
