package directout

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed capabilities.yaml
var defaultCapabilitiesYAML []byte

// Row is one entry of a capability table: a device element with its raw
// index and labelling hints.
type Row struct {
	Type          string    `yaml:"type"`
	SlotID        *string   `yaml:"slotid"`
	ChID          *string   `yaml:"chid"`
	Index         *int      `yaml:"index"`
	SlotLabel     string    `yaml:"slotlabel"`
	ChLabel       string    `yaml:"chlabel"`
	SlotLabelPath string    `yaml:"slotlabelpath"`
	ChLabelPath   string    `yaml:"chlabelpath"`
	Range         *RowRange `yaml:"range"`
}

// RowRange declares a contiguous run of rows.
type RowRange struct {
	Count      int `yaml:"count"`
	FirstChID  int `yaml:"first_chid"`
	FirstIndex int `yaml:"first_index"`
}

// ID returns the composite semantic id of the row. The bool is false when
// the row misses type, chid or index.
func (r Row) ID() (string, bool) {
	if r.Type == "" || r.ChID == nil || r.Index == nil {
		return "", false
	}
	if r.SlotID != nil {
		return r.Type + "_" + *r.SlotID + "_" + *r.ChID, true
	}
	return r.Type + "_" + *r.ChID, true
}

// expand returns the rows described by a range row, or the row itself.
func (r Row) expand() []Row {
	if r.Range == nil {
		return []Row{r}
	}
	out := make([]Row, 0, r.Range.Count)
	for i := 0; i < r.Range.Count; i++ {
		chid := strconv.Itoa(r.Range.FirstChID + i)
		index := r.Range.FirstIndex + i
		fill := strings.NewReplacer("{chid}", chid, "{index}", strconv.Itoa(index))
		row := r
		row.Range = nil
		row.ChID = &chid
		row.Index = &index
		row.ChLabel = fill.Replace(r.ChLabel)
		row.ChLabelPath = fill.Replace(r.ChLabelPath)
		row.SlotLabel = fill.Replace(r.SlotLabel)
		row.SlotLabelPath = fill.Replace(r.SlotLabelPath)
		out = append(out, row)
	}
	return out
}

// SumBusSource locates the assignment bit of a source inside a sum bus
// segment byte.
type SumBusSource struct {
	ChID    string `yaml:"chid"`
	Segment int    `yaml:"segment"`
	Bit     int    `yaml:"bit"`
}

// MatrixMixer describes one matrix mixer instance.
type MatrixMixer struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	DevID  int    `yaml:"devid"`
	Path   string `yaml:"path"`
	Inputs int    `yaml:"in"`
	Output int    `yaml:"out"`
}

// DeviceCounts holds per-device instance counts used to build numbered
// option lists.
type DeviceCounts struct {
	Slots       int `yaml:"slots"`
	Delays      int `yaml:"delays"`
	Compressors int `yaml:"compressors"`
}

// Capabilities holds every capability table, keyed by device type.
type Capabilities struct {
	Tables        map[string]map[DeviceType][]Row `yaml:"tables"`
	SumBusSources map[DeviceType][]SumBusSource   `yaml:"sum_bus_sources"`
	MatMixer      map[DeviceType][]MatrixMixer    `yaml:"mat_mixer"`
	NoRecordPaths map[DeviceType][]string         `yaml:"no_record_paths"`
	Counts        map[DeviceType]DeviceCounts     `yaml:"counts"`

	noRecord map[DeviceType][]*regexp.Regexp
}

// DefaultCapabilities parses the embedded capability tables.
func DefaultCapabilities() (*Capabilities, error) {
	return LoadCapabilities(defaultCapabilitiesYAML)
}

// LoadCapabilities parses capability tables from YAML, expands range rows
// and compiles the no-record patterns.
func LoadCapabilities(data []byte) (*Capabilities, error) {
	var c Capabilities
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}

	for name, byDevice := range c.Tables {
		for dev, rows := range byDevice {
			expanded := make([]Row, 0, len(rows))
			for _, r := range rows {
				expanded = append(expanded, r.expand()...)
			}
			byDevice[dev] = expanded
		}
		c.Tables[name] = byDevice
	}

	c.noRecord = make(map[DeviceType][]*regexp.Regexp, len(c.NoRecordPaths))
	for dev, patterns := range c.NoRecordPaths {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("no_record_paths %s: %w", dev, err)
			}
			c.noRecord[dev] = append(c.noRecord[dev], re)
		}
	}
	return &c, nil
}

// Rows returns the rows of table for device, falling back to GENERIC.
// The bool is false when neither has an entry.
func (c *Capabilities) Rows(table string, device DeviceType) ([]Row, bool) {
	byDevice, ok := c.Tables[table]
	if !ok {
		return nil, false
	}
	if rows, ok := byDevice[device]; ok {
		return rows, true
	}
	rows, ok := byDevice[DeviceGeneric]
	return rows, ok
}

// SumBus returns the sum bus source table for device.
func (c *Capabilities) SumBus(device DeviceType) []SumBusSource {
	if s, ok := c.SumBusSources[device]; ok {
		return s
	}
	return c.SumBusSources[DeviceGeneric]
}

// FindSumBusSource looks up the segment and bit of a source id.
func (c *Capabilities) FindSumBusSource(device DeviceType, chid string) (SumBusSource, bool) {
	for _, s := range c.SumBus(device) {
		if s.ChID == chid {
			return s, true
		}
	}
	return SumBusSource{}, false
}

// Mixers returns the matrix mixers of device.
func (c *Capabilities) Mixers(device DeviceType) []MatrixMixer {
	if m, ok := c.MatMixer[device]; ok {
		return m
	}
	return c.MatMixer[DeviceGeneric]
}

// DeviceCounts returns instance counts for device.
func (c *Capabilities) DeviceCounts(device DeviceType) DeviceCounts {
	if n, ok := c.Counts[device]; ok {
		return n
	}
	return c.Counts[DeviceGeneric]
}

// Recordable reports whether changes at path may be recorded or learned
// on device.
func (c *Capabilities) Recordable(device DeviceType, path string) bool {
	patterns, ok := c.noRecord[device]
	if !ok {
		patterns = c.noRecord[DeviceGeneric]
	}
	for _, re := range patterns {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}
