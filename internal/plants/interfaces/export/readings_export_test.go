package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	plants "irrigation-cloud/internal/plants/domain"
)

func sampleReadings() []plants.MoistureReading {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reading := plants.NewTelemetryReading(3, 41.5)
	reading.ID = 1
	reading.RecordedAt = at
	pump := plants.NewPumpEvent(3, true, true)
	pump.ID = 2
	pump.RecordedAt = at.Add(time.Minute)
	return []plants.MoistureReading{reading, pump}
}

func TestBuildReadingsXLSX(t *testing.T) {
	plant := &plants.Plant{ID: 3, Name: "basil", MoistureThreshold: 35}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	data, err := BuildReadingsXLSX(plant, from, from.Add(24*time.Hour), sampleReadings())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	name, err := f.GetCellValue("summary", "B3")
	if err != nil || name != "basil" {
		t.Fatalf("expected plant name, got %q (%v)", name, err)
	}
	pump, err := f.GetCellValue("readings", "C3")
	if err != nil || pump != "ON" {
		t.Fatalf("expected pump ON in C3, got %q (%v)", pump, err)
	}
}

func TestBuildReadingsPDF(t *testing.T) {
	plant := &plants.Plant{ID: 3, Name: "basil", Location: "kitchen", MoistureThreshold: 35}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	data, err := BuildReadingsPDF(plant, from, from.Add(24*time.Hour), sampleReadings())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf header")
	}
}

func TestRowsKeepsPumpEventsWithoutMoisture(t *testing.T) {
	rows := Rows(sampleReadings())
	if len(rows) != 2 || rows[0].Moisture == nil || rows[1].Moisture != nil || !rows[1].PumpStatus {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
