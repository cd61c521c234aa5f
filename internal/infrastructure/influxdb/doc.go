// Package influxdb writes optional fireplace telemetry to InfluxDB 2.x.
//
// Every applied attribute change becomes a fireplace_attribute point tagged
// with device_id and attribute, and the bridge health reporter writes
// periodic fireplace_connection samples. Writes go through the batched,
// non-blocking write API of influxdb-client-go; asynchronous failures are
// delivered to the SetOnError callback and mark the client unhealthy for a
// minute.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAttributeMetric("living-room", "flame_height", 4)
package influxdb
