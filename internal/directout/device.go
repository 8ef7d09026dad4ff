package directout

import (
	"fmt"
	"strings"
)

// DeviceType identifies a device family. Capability tables are keyed by it.
type DeviceType string

// Known device types. DeviceGeneric is the fallback for unrecognised models
// and the default row source when a device has no table of its own.
const (
	DeviceUnknown   DeviceType = ""
	DeviceProdigyMC DeviceType = "PRODIGY.MC"
	DeviceProdigyMP DeviceType = "PRODIGY.MP"
	DeviceProdigyMX DeviceType = "PRODIGY.MX"
	DeviceMavenA    DeviceType = "MAVEN.A"
	DeviceGeneric   DeviceType = "GENERIC"
)

// ModelPath is where the device reports its model identifier.
const ModelPath = "/device_info/model"

// ParseDeviceType maps a reported model identifier to a DeviceType.
func ParseDeviceType(model string) DeviceType {
	switch DeviceType(strings.TrimSpace(model)) {
	case DeviceProdigyMC:
		return DeviceProdigyMC
	case DeviceProdigyMP:
		return DeviceProdigyMP
	case DeviceProdigyMX:
		return DeviceProdigyMX
	case DeviceMavenA:
		return DeviceMavenA
	default:
		return DeviceGeneric
	}
}

// IsMaven reports whether the device belongs to the MAVEN family.
func (d DeviceType) IsMaven() bool {
	return strings.HasPrefix(string(d), "MAVEN")
}

// HasDSPSinks reports whether the device exposes flex, mixer and
// sidechain sinks in addition to plain outputs.
func (d DeviceType) HasDSPSinks() bool {
	return d == DeviceProdigyMP || d == DeviceProdigyMX || d == DeviceMavenA
}

// DeviceInfo is the identification block read from the root snapshot.
type DeviceInfo struct {
	Model        DeviceType `json:"model"`
	RawModel     string     `json:"raw_model"`
	SystemBuild  string     `json:"system_build"`
	FPGAVersion  string     `json:"fpga_version"`
	CoredVersion string     `json:"cored_version"`
	SerialNumber string     `json:"serial_number"`
}

// readDeviceInfo extracts identification fields. The bool is false when
// the model cannot be read.
func readDeviceInfo(s *Store) (DeviceInfo, bool) {
	model, ok := s.Value(ModelPath)
	raw, isStr := model.Str()
	if !ok || !isStr || raw == "" {
		return DeviceInfo{}, false
	}
	info := DeviceInfo{
		Model:        ParseDeviceType(raw),
		RawModel:     raw,
		CoredVersion: stateText(s, "/device_info/cored_tag"),
		SerialNumber: stateText(s, "/device_info/serial_number"),
		SystemBuild: fmt.Sprintf("%s (%s)",
			stateText(s, "/device_info/image_build/0"), stateText(s, "/device_info/image_build/1")),
	}
	if info.Model.IsMaven() {
		info.FPGAVersion = stateText(s, "/device_info/version_fpga")
	} else {
		info.FPGAVersion = fmt.Sprintf("v%s.%s b%s%s",
			stateText(s, "/device_info/FPGA_FW_rev/0"), stateText(s, "/device_info/FPGA_FW_rev/1"),
			stateText(s, "/device_info/FPGA_FW_build/0"), stateText(s, "/device_info/FPGA_FW_build/1"))
	}
	return info, true
}

func stateText(s *Store, path string) string {
	v, ok := s.Value(path)
	if !ok {
		return "?"
	}
	return v.String()
}
