// Package bdftest synthesizes BDF files for tests.
//
// Headers are assembled byte by byte from the published field widths, not
// through pkg/header, so tests of the header code are not checked against
// themselves.
package bdftest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// BytesPerSample is the BDF sample width (24-bit).
const BytesPerSample = 3

// File describes a synthetic BDF file.
type File struct {
	SubjectID   string
	RecordingID string
	Date        string
	Time        string
	Version     string
	Records     int
	Duration    int

	Labels      []string
	Transducers []string
	Dimensions  []string
	PhysMin     []int
	PhysMax     []int
	DigMin      []int
	DigMax      []int
	Prefilter   []string
	Samples     []int
	Reserved    []string

	// Seed varies the data records between otherwise identical files.
	Seed byte
}

// Newtest17 mirrors the BioSemi "Newtest17" sample recordings: 16 EEG
// channels plus a status channel, 60 one-second records.
func Newtest17(samplesPerRecord int) File {
	const n = 17
	f := File{
		Date:     "05.11.01",
		Time:     "19.38.42",
		Version:  "24BIT",
		Records:  60,
		Duration: 1,
	}
	for i := 0; i < n; i++ {
		if i == n-1 {
			f.Labels = append(f.Labels, "Status")
			f.Transducers = append(f.Transducers, "Triggers and Status")
			f.Dimensions = append(f.Dimensions, "Boolean")
			f.PhysMin = append(f.PhysMin, -8388608)
			f.PhysMax = append(f.PhysMax, 8388607)
			f.Prefilter = append(f.Prefilter, "No filtering")
		} else {
			f.Labels = append(f.Labels, "A"+strconv.Itoa(i+1))
			f.Transducers = append(f.Transducers, "Active Electrode, pin type")
			f.Dimensions = append(f.Dimensions, "uV")
			f.PhysMin = append(f.PhysMin, -262144)
			f.PhysMax = append(f.PhysMax, 262144)
			f.Prefilter = append(f.Prefilter, "HP: DC; LP: 113 Hz")
		}
		f.DigMin = append(f.DigMin, -8388608)
		f.DigMax = append(f.DigMax, 8388607)
		f.Samples = append(f.Samples, samplesPerRecord)
		f.Reserved = append(f.Reserved, "Reserved")
	}
	return f
}

// Channels returns the channel count.
func (f File) Channels() int {
	return len(f.Labels)
}

// HeaderSize returns the header length in bytes.
func (f File) HeaderSize() int {
	return 256 * (f.Channels() + 1)
}

// RecordSize returns the size of one data record in bytes.
func (f File) RecordSize() int {
	total := 0
	for _, s := range f.Samples {
		total += s
	}
	return total * BytesPerSample
}

// Header renders the header bytes.
func (f File) Header() []byte {
	b := make([]byte, 0, f.HeaderSize())
	field := func(s string, w int) {
		if len(s) > w {
			panic(fmt.Sprintf("bdftest: %q longer than %d", s, w))
		}
		b = append(b, s...)
		for i := len(s); i < w; i++ {
			b = append(b, ' ')
		}
	}
	strs := func(vs []string, w int) {
		for _, v := range vs {
			field(v, w)
		}
	}
	ints := func(vs []int, w int) {
		for _, v := range vs {
			field(strconv.Itoa(v), w)
		}
	}

	field("\xffBIOSEMI", 8)
	field(f.SubjectID, 80)
	field(f.RecordingID, 80)
	field(f.Date, 8)
	field(f.Time, 8)
	field(strconv.Itoa(f.HeaderSize()), 8)
	field(f.Version, 44)
	field(strconv.Itoa(f.Records), 8)
	field(strconv.Itoa(f.Duration), 8)
	field(strconv.Itoa(f.Channels()), 4)
	strs(f.Labels, 16)
	strs(f.Transducers, 80)
	strs(f.Dimensions, 8)
	ints(f.PhysMin, 8)
	ints(f.PhysMax, 8)
	ints(f.DigMin, 8)
	ints(f.DigMax, 8)
	strs(f.Prefilter, 80)
	ints(f.Samples, 8)
	strs(f.Reserved, 32)
	return b
}

// Data renders Records data records of deterministic pseudo-random bytes.
func (f File) Data() []byte {
	out := make([]byte, f.Records*f.RecordSize())
	x := uint32(2463534242) ^ uint32(f.Seed)<<24
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}

// Bytes renders the whole file.
func (f File) Bytes() []byte {
	return append(f.Header(), f.Data()...)
}

// Write stores the file as dir/name and returns its path.
func (f File) Write(tb testing.TB, dir, name string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}
