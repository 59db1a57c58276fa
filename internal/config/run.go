package config

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/dm4tiff/internal/converter"
	"github.com/banshee-data/dm4tiff/internal/q2bz"
	"github.com/banshee-data/dm4tiff/internal/submit"
	"github.com/banshee-data/dm4tiff/internal/tiffout"
)

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultOutputDir  = "tiff"
	DefaultWorkers    = 1
	DefaultByteOrder  = "little"
	DefaultLedgerPath = "dm4tiff.db"

	MaxWorkers = 256
)

// RunConfig collects the options of a batch run. Unset fields fall back to
// defaults through the Get* methods, so a zero RunConfig is usable.
type RunConfig struct {
	ConverterBinary  *string
	ConverterWorkDir *string
	OutputDir        *string
	Workers          *int
	ByteOrder        *string
	TIFFFormat       *string
	LedgerPath       *string // "" disables the ledger
	Preview          *bool
	KeepIntermediate *bool
	SubmitCommand    *string
	SubmitScript     *string
	DryRun           *bool
	SkipDirectoryFix *bool
}

// Validate checks the fields that are set.
func (c *RunConfig) Validate() error {
	if c.Workers != nil && (*c.Workers < 1 || *c.Workers > MaxWorkers) {
		return fmt.Errorf("workers must be between 1 and %d, got %d", MaxWorkers, *c.Workers)
	}
	if c.ByteOrder != nil {
		if _, err := ParseByteOrder(*c.ByteOrder); err != nil {
			return err
		}
	}
	if c.TIFFFormat != nil {
		if _, err := tiffout.ParseFormat(*c.TIFFFormat); err != nil {
			return err
		}
	}
	if c.OutputDir != nil && *c.OutputDir == "" {
		return fmt.Errorf("output dir must not be empty")
	}
	if c.ConverterBinary != nil && *c.ConverterBinary == "" {
		return fmt.Errorf("converter binary must not be empty")
	}
	return nil
}

// ParseByteOrder maps "little" or "big" onto a binary.ByteOrder.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want little or big)", s)
	}
}

func (c *RunConfig) GetConverterBinary() string {
	if c.ConverterBinary == nil {
		return converter.DefaultBinary
	}
	return *c.ConverterBinary
}

func (c *RunConfig) GetConverterWorkDir() string {
	if c.ConverterWorkDir == nil {
		return ""
	}
	return *c.ConverterWorkDir
}

func (c *RunConfig) GetOutputDir() string {
	if c.OutputDir == nil {
		return DefaultOutputDir
	}
	return *c.OutputDir
}

func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return DefaultWorkers
	}
	return *c.Workers
}

// GetDecodeOptions returns the q2bz options for the configured byte order.
// Call Validate first; an invalid order falls back to little endian.
func (c *RunConfig) GetDecodeOptions() q2bz.Options {
	s := DefaultByteOrder
	if c.ByteOrder != nil {
		s = *c.ByteOrder
	}
	order, err := ParseByteOrder(s)
	if err != nil {
		order = binary.LittleEndian
	}
	return q2bz.Options{ByteOrder: order}
}

func (c *RunConfig) GetTIFFFormat() tiffout.Format {
	if c.TIFFFormat == nil {
		return tiffout.Float32
	}
	f, err := tiffout.ParseFormat(*c.TIFFFormat)
	if err != nil {
		return tiffout.Float32
	}
	return f
}

func (c *RunConfig) GetLedgerPath() string {
	if c.LedgerPath == nil {
		return DefaultLedgerPath
	}
	return *c.LedgerPath
}

func (c *RunConfig) GetPreview() bool {
	return c.Preview != nil && *c.Preview
}

// GetKeepIntermediate defaults to true: the .q2bz files are kept.
func (c *RunConfig) GetKeepIntermediate() bool {
	return c.KeepIntermediate == nil || *c.KeepIntermediate
}

func (c *RunConfig) GetSubmitCommand() string {
	if c.SubmitCommand == nil {
		return submit.DefaultCommand
	}
	return *c.SubmitCommand
}

func (c *RunConfig) GetSubmitScript() string {
	if c.SubmitScript == nil {
		return submit.DefaultScript
	}
	return *c.SubmitScript
}

func (c *RunConfig) GetDryRun() bool {
	return c.DryRun != nil && *c.DryRun
}

func (c *RunConfig) GetSkipDirectoryFix() bool {
	return c.SkipDirectoryFix != nil && *c.SkipDirectoryFix
}
