// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/transport"
)

var (
	emitInterval     time.Duration
	emitCount        int
	emitCorruptEvery int
	emitGarbage      int
	emitSeed         int64
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Write simulated station frames",
	Long: `Write simulated frames in the station's wire format.

Values drift slowly around plausible readings. Use --corrupt-every to flip the
checksum of every Nth frame and --garbage to prefix each frame with random
noise, for exercising a receiver's resynchronization.

Use --port - to write the frames to stdout, e.g. into one end of a socat pty
pair while "airstation run" reads the other.`,
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)
	emitCmd.Flags().DurationVar(&emitInterval, "interval", time.Second, "Time between frames")
	emitCmd.Flags().IntVar(&emitCount, "count", 0, "Number of frames to write (0 = until interrupted)")
	emitCmd.Flags().IntVar(&emitCorruptEvery, "corrupt-every", 0, "Corrupt the checksum of every Nth frame (0 = never)")
	emitCmd.Flags().IntVar(&emitGarbage, "garbage", 0, "Random bytes written before each frame")
	emitCmd.Flags().Int64Var(&emitSeed, "seed", 0, "Random seed (0 = time based)")
}

// baseline readings per channel key
var emitBaseline = map[string]float64{
	"temperature": 21.0,
	"humidity":    45.0,
	"pressure":    1013.0,
	"usv":         0.12,
	"pm1.0":       4.0,
	"pm2.5":       6.0,
	"pm4.0":       7.5,
	"pm10":        9.0,
}

func runEmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	target := "stdout"
	if cfg.Device != "-" {
		port, err := transport.OpenSerial(transport.SerialConfig{
			Path:        cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return err
		}
		defer port.Close()
		out = port
		target = port.String()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed := emitSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim := newSimulator(layout, rand.New(rand.NewSource(seed)))

	fmt.Fprintf(os.Stderr, "Airstation - Frame Emitter\n")
	fmt.Fprintf(os.Stderr, "Target: %s\n", target)
	fmt.Fprintf(os.Stderr, "Layout: %s, interval %s, seed %d\n\n", layout.Name, emitInterval, seed)

	written := 0
	for emitCount == 0 || written < emitCount {
		corrupt := emitCorruptEvery > 0 && (written+1)%emitCorruptEvery == 0
		if _, err := out.Write(sim.next(emitGarbage, corrupt)); err != nil {
			return fmt.Errorf("write failed after %d frames: %w", written, err)
		}
		written++

		if emitCount != 0 && written == emitCount {
			break
		}
		if err := sleepContext(ctx, emitInterval); err != nil {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "Wrote %d frames\n", written)
	return nil
}

// simulator produces drifting channel values
type simulator struct {
	layout *airframe.Layout
	rng    *rand.Rand
	values []float64
}

func newSimulator(layout *airframe.Layout, rng *rand.Rand) *simulator {
	values := make([]float64, len(layout.Channels))
	for i, c := range layout.Channels {
		values[i] = emitBaseline[c.Key]
	}
	return &simulator{layout: layout, rng: rng, values: values}
}

// next returns garbage bytes followed by one frame
func (s *simulator) next(garbage int, corrupt bool) []byte {
	out := make([]byte, 0, garbage+1+s.layout.FrameLen())
	for i := 0; i < garbage; i++ {
		b := byte(s.rng.Intn(256))
		if b == airframe.SyncByte {
			b = 0x00
		}
		out = append(out, b)
	}

	values := make([]float32, len(s.values))
	for i, c := range s.layout.Channels {
		base := emitBaseline[c.Key]
		// Random walk pulled back toward the baseline
		s.values[i] += (base-s.values[i])*0.1 + s.rng.NormFloat64()*base*0.01
		if s.values[i] < 0 {
			s.values[i] = 0
		}
		values[i] = float32(s.values[i])
	}

	frame, err := airframe.EncodeFrame(s.layout, values)
	if err != nil {
		panic(fmt.Sprintf("emit: %v", err))
	}
	if corrupt {
		frame[len(frame)-1] ^= 0xFF
	}

	return append(out, frame...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
