// Command sds011-probe lists the serial devices on this machine and probes
// each one for an SDS011 sensor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/aqi"
	"github.com/VishwanathaRgitgit/DeepAir/internal/negotiator"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
	"github.com/VishwanathaRgitgit/DeepAir/internal/serialport"
)

var (
	ports   = flag.String("ports", "", "Comma-separated ports to probe (default: every port found)")
	timeout = flag.Duration("timeout", 3*time.Second, "How long each port may stay silent")
	follow  = flag.Bool("follow", false, "Keep printing readings from the sensor once found")
	count   = flag.Int("count", 0, "With -follow, stop after this many readings (0 means until interrupted)")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candidates := splitPorts(*ports)
	if len(candidates) == 0 {
		infos, err := serialport.DescribePorts()
		if err != nil {
			log.Fatalf("list ports: %v", err)
		}
		if len(infos) == 0 {
			fmt.Println("no serial ports found")
			fmt.Println("  - check the sensor is connected via USB")
			fmt.Println("  - install the USB-to-serial driver (CH340/CP2102)")
			fmt.Println("  - try a different USB port")
			os.Exit(1)
		}
		fmt.Printf("found %d serial port(s):\n", len(infos))
		for i, p := range infos {
			marker := ""
			if serialport.IsKnownBridge(p) {
				marker = " *"
			}
			fmt.Printf("  %d. %s - %s%s\n", i+1, p.Name, p.Description(), marker)
			candidates = append(candidates, p.Name)
		}
	}

	neg := &negotiator.Negotiator{}
	var conn *negotiator.Connection
	for _, path := range candidates {
		fmt.Printf("\ntesting %s...\n", path)
		c, err := neg.Discover(ctx, []string{path}, *timeout)
		if err != nil {
			if ctx.Err() != nil {
				os.Exit(1)
			}
			fmt.Printf("  no sensor: %v\n", err)
			continue
		}
		fmt.Printf("  SDS011 found: %s\n", c.First)
		conn = c
		break
	}

	if conn == nil {
		fmt.Println("\nno SDS011 sensor detected. next steps:")
		fmt.Println("  1. check the sensor connection")
		fmt.Println("  2. install the USB-to-serial driver")
		fmt.Println("  3. try a different USB port")
		fmt.Println("  4. check the sensor has power")
		os.Exit(1)
	}
	defer conn.Port.Close()

	if !*follow {
		return
	}
	if err := tail(ctx, conn, *count); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("follow %s: %v", conn.Path, err)
		os.Exit(1)
	}
}

func splitPorts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// tail prints readings until ctx is done, the device goes away, or n
// readings have been shown.
func tail(ctx context.Context, conn *negotiator.Connection, n int) error {
	fmt.Printf("\nreading from %s (Ctrl+C to stop)\n", conn.Path)
	shown := 0
	show := func(m sds011.Measurement) bool {
		idx := aqi.FromPM25(m.PM25)
		fmt.Printf("  %s  PM2.5 %5.1f  PM10 %5.1f  AQI %d (%s)\n",
			m.ObservedAt.Format("15:04:05"), m.PM25, m.PM10, idx.Level, idx.Category)
		shown++
		return n > 0 && shown >= n
	}

	for _, m := range conn.Measurements() {
		if show(m) {
			return nil
		}
	}

	if err := conn.Port.SetReadTimeout(time.Second); err != nil {
		return err
	}
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		nr, err := conn.Port.Read(buf)
		if err != nil {
			if serialport.IsDisconnected(err) {
				return err
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if nr == 0 {
			conn.Decoder.Expire()
			continue
		}
		for _, e := range conn.Decoder.FeedAll(buf[:nr]) {
			if e.Kind != sds011.Emitted {
				continue
			}
			if show(e.Measurement) {
				return nil
			}
		}
	}
}
