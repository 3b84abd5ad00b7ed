// Package trace reads and writes the flat line-oriented access trace format
// cmd/ghbsim's gen and run subcommands pass between each other: one record
// per memory access, in the order the generator emitted them (program order
// unless gen was given --reorder), the same shape testbed.Memory's
// AccessObserver callback already hands the harness.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/supraxlabs/ghbprefetch/prefetch"
)

// Record is one traced memory access: an address, an optional PC, and
// whether the access was a store.
type Record struct {
	Addr    uint64
	PC      uint64
	HasPC   bool
	IsStore bool
}

// Write emits one "addr pc haspc isstore" line per record, in decimal.
func Write(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for i, r := range records {
		if _, err := fmt.Fprintf(bw, "%d %d %t %t\n", r.Addr, r.PC, r.HasPC, r.IsStore); err != nil {
			return errors.Wrapf(err, "writing trace record %d", i)
		}
	}
	return errors.Wrap(bw.Flush(), "flushing trace writer")
}

// Read parses a trace previously emitted by Write. Blank lines and lines
// starting with '#' are skipped, so hand-authored traces can carry
// comments.
func Read(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("trace line %d: expected 4 fields, got %d", lineNum, len(fields))
		}

		addr, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: parsing addr", lineNum)
		}
		pc, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: parsing pc", lineNum)
		}
		hasPC, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: parsing haspc", lineNum)
		}
		isStore, err := strconv.ParseBool(fields[3])
		if err != nil {
			return nil, errors.Wrapf(err, "trace line %d: parsing isstore", lineNum)
		}

		records = append(records, Record{Addr: addr, PC: pc, HasPC: hasPC, IsStore: isStore})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning trace")
	}
	return records, nil
}

// ToAccessEvents drops the IsStore bit (the dispatcher's pipeline doesn't
// distinguish loads from stores, per spec.md §4) and returns the sequence
// as prefetch.AccessEvent values ready to replay.
func ToAccessEvents(records []Record) []prefetch.AccessEvent {
	events := make([]prefetch.AccessEvent, len(records))
	for i, r := range records {
		events[i] = prefetch.AccessEvent{Addr: r.Addr, PC: r.PC, HasPC: r.HasPC}
	}
	return events
}

// FromAddrs wraps a bare address stream (as testbed's unobserved generators
// or internal/synth/ooo's ReorderAccesses produce) into Records with no PC
// information, for traces where control-flow context wasn't tracked.
func FromAddrs(addrs []uint64) []Record {
	records := make([]Record, len(addrs))
	for i, a := range addrs {
		records[i] = Record{Addr: a}
	}
	return records
}
