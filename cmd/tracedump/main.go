// Copyright 2024 The go-nettrace Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tracedump is a small demonstration CLI that decodes a Nettrace
// file and prints each dispatched event, analogous to perffile's
// cmd/dump — not the full product CLI spec.md's Non-goals exclude.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-nettrace/nettrace"
)

var (
	flagOrder   string // reserved for a future causal/file-order mode; time order is the only one implemented
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "tracedump <file>",
		Short: "Decode and dump a Nettrace trace",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
	root.Flags().StringVar(&flagOrder, "order", "time", "event order to report (currently only \"time\" is supported)")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "print each event, not just summary counts")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

type printSink struct {
	count int
}

func (s *printSink) OnEvent(e *nettrace.EventRecord) error {
	s.count++
	if flagVerbose {
		fmt.Printf("%10d  provider=%s event=%d v%d level=%d opcode=%d thread=%d payload=%dB\n",
			e.Timestamp, e.ProviderID, e.EventID, e.Version, e.Level, e.Opcode, e.ThreadID, len(e.Payload))
	}
	return nil
}

func (s *printSink) OnStack(e *nettrace.EventRecord, stack []byte) error {
	if flagVerbose {
		fmt.Printf("%10d    stack: %d bytes\n", e.Timestamp, len(stack))
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	src, err := nettrace.OpenMmapSource(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	instr, err := nettrace.NewInstrumentationFromEnv(os.TempDir())
	if err != nil {
		return err
	}
	defer instr.Close()

	r := nettrace.NewReaderFromSource(src)
	dec := nettrace.NewDecoder(r, nettrace.Options{Instrumentation: instr})

	sink := &printSink{}
	if err := dec.Run(sink); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	params := dec.Params()
	stats := dec.Stats()
	fmt.Printf("%+v\n", params)
	fmt.Printf("events dispatched: %d (lost: %d), stacks interned: %d, printed: %d\n",
		stats.EventsDispatched, stats.EventsLost, stats.StacksInterned, sink.count)
	return nil
}
