// Package logx configures schedd's structured logging.
//
// Logger is a small value type over zerolog. Console output is
// human-readable with a short caller; file output is JSON lines; under
// systemd the journal sink maps levels to journal priorities. Service.Apply
// swaps sinks on config reload without replacing Logger values.
package logx
