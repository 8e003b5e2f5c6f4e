package gps

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/timeutil"
)

// DefaultBaudRate is the usual rate for consumer NMEA GPS pucks.
const DefaultBaudRate = 9600

// OpenSerial opens a GPS receiver on a serial port and returns a Mux
// reading from it.
func OpenSerial(portName string, baudRate int, clock timeutil.Clock) (*Mux, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("gps: open serial port %s: %w", portName, err)
	}
	monitoring.Logf("gps: reading NMEA from %s at %d baud", portName, baudRate)
	return NewMux(port, clock, portName), nil
}

// RunSource is a convenience wrapper that runs src until ctx ends and
// logs the terminal error if it was not a clean shutdown.
func RunSource(ctx context.Context, src Source) {
	if err := src.Run(ctx); err != nil && ctx.Err() == nil && err != io.EOF {
		monitoring.Logf("gps: source stopped: %v", err)
	}
}
