// Package sysinfo samples host cpu and memory utilization from /proc for the
// system stats snapshot. On platforms without /proc the sampler reports
// zeros rather than failing.
package sysinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Sampler computes cpu utilization from successive /proc/stat readings.
type Sampler struct {
	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
}

// NewSampler creates a sampler primed with an initial reading.
func NewSampler() *Sampler {
	s := &Sampler{}
	s.prevBusy, s.prevTotal = readCPU()
	return s
}

// CPUPercent returns aggregate cpu utilization since the previous call.
func (s *Sampler) CPUPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy, total := readCPU()
	defer func() {
		s.prevBusy, s.prevTotal = busy, total
	}()

	if total <= s.prevTotal {
		return 0
	}

	busyDelta := float64(busy - s.prevBusy)
	totalDelta := float64(total - s.prevTotal)
	return 100 * busyDelta / totalDelta
}

// MemoryPercent returns the fraction of system memory in use.
func MemoryPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}

	if total == 0 || available > total {
		return 0
	}
	return 100 * float64(total-available) / float64(total)
}

// readCPU parses the aggregate cpu line of /proc/stat into busy and total
// jiffy counts.
func readCPU() (busy, total uint64) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}

		fields := strings.Fields(line)
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				continue
			}
			total += v
			// fields 4 and 5 are idle and iowait
			if i != 3 && i != 4 {
				busy += v
			}
		}
		break
	}
	return busy, total
}
