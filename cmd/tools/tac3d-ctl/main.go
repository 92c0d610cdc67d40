// Command tac3d-ctl queries and drives a running tac3d receiver through its
// monitor API.
//
//	tac3d-ctl [-url http://localhost:8081] status|sensors|frames|calibrate SN|quit SN
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/tac3d.report/internal/tactile/monitor"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8081", "Monitor base URL")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	sn := flag.String("sn", "", "Sensor serial number filter for frames")
	limit := flag.Int("limit", 20, "Number of frames to list")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := monitor.NewClient(nil, *baseURL)
	if err := run(ctx, c, os.Stdout, flag.Args(), *sn, *limit); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, c *monitor.Client, out io.Writer, args []string, sn string, limit int) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tac3d-ctl status|sensors|frames|calibrate SN|quit SN")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "status":
		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		s, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "tac3d %s ready=%t uptime=%.0fs datagrams=%d frames=%d dropped=%d\n",
			h.Build, h.Ready, s.UptimeSeconds, s.Datagrams, s.FramesDelivered, s.DroppedTotal())
		return nil
	case "sensors":
		sensors, err := c.Sensors(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(sensors)
	case "frames":
		frames, err := c.RecentFrames(ctx, sn, limit)
		if err != nil {
			return err
		}
		return enc.Encode(frames)
	case "calibrate", "quit":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a sensor serial number", args[0])
		}
		send := c.Calibrate
		if args[0] == "quit" {
			send = c.Quit
		}
		if err := send(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s sent to %s\n", args[0], args[1])
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
