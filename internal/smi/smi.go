// Package smi decodes the XML form of nvidia-smi output ("nvidia-smi -q -x"),
// the only nvidia-smi format stable enough to parse across driver versions.
package smi

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Report is the decoded nvidia_smi_log document for one host.
type Report struct {
	XMLName       xml.Name `xml:"nvidia_smi_log"`
	Timestamp     string   `xml:"timestamp"`
	DriverVersion string   `xml:"driver_version"`
	CUDAVersion   string   `xml:"cuda_version"`
	AttachedGPUs  int      `xml:"attached_gpus"`
	GPUs          []GPU    `xml:"gpu"`
}

// GPU is one physical device in the log.
type GPU struct {
	ID          string      `xml:"id,attr"`
	ProductName string      `xml:"product_name"`
	MinorNumber int         `xml:"minor_number"`
	FBMemory    Memory      `xml:"fb_memory_usage"`
	Utilization Utilization `xml:"utilization"`
	Temperature Temperature `xml:"temperature"`
	Processes   Processes   `xml:"processes"`
}

// Memory holds framebuffer usage in MiB.
type Memory struct {
	Total MiB `xml:"total"`
	Used  MiB `xml:"used"`
	Free  MiB `xml:"free"`
}

// Utilization holds the device utilization percentages.
type Utilization struct {
	GPU    Percent `xml:"gpu_util"`
	Memory Percent `xml:"memory_util"`
}

// Temperature holds the core temperature reading.
type Temperature struct {
	GPU Celsius `xml:"gpu_temp"`
}

// Processes wraps the process list; nvidia-smi emits zero or more
// process_info children.
type Processes struct {
	Infos []Process `xml:"process_info"`
}

// Process is one compute/graphics process using the device. Owner is not
// part of the nvidia-smi output; it is filled in by a follow-up ps query.
type Process struct {
	PID        string `xml:"pid"`
	Type       string `xml:"type"`
	Name       string `xml:"process_name"`
	UsedMemory MiB    `xml:"used_memory"`
	Owner      string `xml:"-"`
}

// Parse decodes a full nvidia-smi -q -x document.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := xml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding nvidia-smi output: %w", err)
	}
	return &r, nil
}

// Device returns the CUDA device name for the GPU ("cuda:0", "cuda:1", ...).
func (g *GPU) Device() string {
	return fmt.Sprintf("cuda:%d", g.MinorNumber)
}

// UsedFraction is the fraction of framebuffer memory in use, in [0, 1].
func (m Memory) UsedFraction() float64 {
	if m.Total <= 0 {
		return 0
	}
	f := float64(m.Used) / float64(m.Total)
	switch {
	case f < 0: // Used of -1 means the driver reported N/A
		return 0
	case f > 1:
		return 1
	}
	return f
}

// PIDs collects the unique process IDs across all devices, in first-seen order.
func (r *Report) PIDs() []string {
	var pids []string
	seen := make(map[string]bool)
	for _, g := range r.GPUs {
		for _, p := range g.Processes.Infos {
			if p.PID == "" || seen[p.PID] {
				continue
			}
			seen[p.PID] = true
			pids = append(pids, p.PID)
		}
	}
	return pids
}

// SetOwners attaches usernames to every process whose PID appears in the map.
func (r *Report) SetOwners(owners map[string]string) {
	for gi := range r.GPUs {
		infos := r.GPUs[gi].Processes.Infos
		for pi := range infos {
			if owner, ok := owners[infos[pi].PID]; ok {
				infos[pi].Owner = owner
			}
		}
	}
}

// MiB is a memory quantity decoded from strings like "81920 MiB".
// "N/A" and "Insufficient Permissions" decode to -1.
type MiB int64

func (m *MiB) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	v, err := unitValue(s, "MiB")
	if err != nil {
		return fmt.Errorf("memory value %q: %w", s, err)
	}
	*m = MiB(v)
	return nil
}

// Percent is a utilization value decoded from strings like "98 %".
// Unknown readings decode to -1.
type Percent int

func (p *Percent) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	v, err := unitValue(s, "%")
	if err != nil {
		return fmt.Errorf("utilization value %q: %w", s, err)
	}
	*p = Percent(v)
	return nil
}

// Celsius is a temperature decoded from strings like "65 C".
type Celsius int

func (c *Celsius) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	v, err := unitValue(s, "C")
	if err != nil {
		return fmt.Errorf("temperature value %q: %w", s, err)
	}
	*c = Celsius(v)
	return nil
}

// unitValue parses "<number> <unit>" fields. nvidia-smi reports readings it
// cannot take as "N/A" (or an explanation string); those map to -1 rather
// than an error so one unreadable sensor doesn't reject the whole document.
func unitValue(s, unit string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || !isDigit(s[0]) {
		return -1, nil
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, unit))
	// Some fields are decimal ("72.45 W" style); truncate to the integer part.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
