package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementVariable is the measurement numeric variable values are
// written to.
const MeasurementVariable = "directout_variable"

// VariablePoint builds the point for one numeric variable change. The
// site and device model are tags; the variable name is a tag so a panel's
// history can be queried per channel.
func VariablePoint(site, deviceType, name string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementVariable,
		map[string]string{
			"site":     site,
			"device":   deviceType,
			"variable": name,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

// WriteVariable queues one variable value. The write is non-blocking;
// errors arrive on the SetOnError callback.
func (c *Client) WriteVariable(site, deviceType, name string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(VariablePoint(site, deviceType, name, value, at))
}

// WritePoint writes a custom point with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
