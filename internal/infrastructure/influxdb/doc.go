// Package influxdb writes the history of numeric device variables to
// InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every numeric
// variable change of the device session (gains, levels, sample rate)
// becomes a point in the directout_variable measurement, tagged with the
// site, device model and variable name.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteVariable("studio-a", "PRODIGY.MP", "output_gain_3", -6.5, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval and never block the caller; asynchronous
// write errors are delivered to the SetOnError callback.
package influxdb
