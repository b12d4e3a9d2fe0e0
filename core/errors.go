package core

import "errors"

var (
	// ErrInvalidArgument marks malformed geometric input: wrong
	// dimensionality, zero-length directions, negative elapsed time.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotCalibrated is returned when a HaloFrame is queried before Calibrate.
	ErrNotCalibrated = errors.New("halo frame not calibrated")
	// ErrAlreadyCalibrated is returned by a second Calibrate call.
	ErrAlreadyCalibrated = errors.New("halo frame already calibrated")
	// ErrOracleFailure wraps every ephemeris lookup failure.
	ErrOracleFailure = errors.New("ephemeris oracle failure")
	// ErrMalformedInputFile marks a missing, empty or unparsable input file.
	ErrMalformedInputFile = errors.New("malformed input file")
	// ErrUnknownStation is returned by table queries naming a station the run did not evaluate.
	ErrUnknownStation = errors.New("unknown station")
	// ErrUnknownColumn is returned by Column for names outside the table schema.
	ErrUnknownColumn = errors.New("unknown column")
)
