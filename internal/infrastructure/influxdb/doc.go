// Package influxdb records octobridge slot history in InfluxDB v2.
//
// The bridge itself keeps no history. The host adapter forwards every
// numeric slot value here as a point in the printer_slot measurement, and
// the bridge's poll cycles and status changes land in printer_poll and
// printer_status. Writes are non-blocking and batched (batch_size,
// flush_interval); async failures reach the callback set with SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSlotValue("workshop-mk3", "actual_temp_tool0", 214.8, time.Now())
package influxdb
