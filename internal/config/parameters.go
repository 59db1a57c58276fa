// Package config holds the crop/bin parameters and the run options shared by
// the command line subcommands.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/bincrop"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/imaging"
)

// DefaultParametersPath is read from the working directory by batch runs.
const DefaultParametersPath = "parameters.txt"

// parameterNames are the lines of a parameters file, in order.
var parameterNames = [...]string{"x1", "y1", "x2", "y2", "bin"}

// maxParametersSize guards against pointing the loader at an image.
const maxParametersSize = 64 * 1024

// LoadParameters reads a parameters file: five lines holding x1, y1, x2, y2
// and bin. Only the first whitespace-separated token of each line is used, so
// lines may carry a trailing comment such as "100  x1 (left)".
func LoadParameters(fsys fsutil.FileSystem, path string) (imaging.Params, error) {
	cleanPath := filepath.Clean(path)
	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return imaging.Params{}, fmt.Errorf("failed to stat parameters file: %w", err)
	}
	if info.Size() > maxParametersSize {
		return imaging.Params{}, fmt.Errorf("parameters file too large: %d bytes (max %d)", info.Size(), maxParametersSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return imaging.Params{}, fmt.Errorf("failed to read parameters file: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	tokens := make([]string, 0, len(parameterNames))
	for len(tokens) < len(parameterNames) && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			return imaging.Params{}, fmt.Errorf("%s: line %d (%s) is empty", cleanPath, len(tokens)+1, parameterNames[len(tokens)])
		}
		tokens = append(tokens, fields[0])
	}
	if err := sc.Err(); err != nil {
		return imaging.Params{}, fmt.Errorf("failed to read parameters file: %w", err)
	}
	if len(tokens) < len(parameterNames) {
		return imaging.Params{}, fmt.Errorf("%s: want %d lines (%s), got %d",
			cleanPath, len(parameterNames), strings.Join(parameterNames[:], ", "), len(tokens))
	}

	p, err := ParsePositional(tokens)
	if err != nil {
		return imaging.Params{}, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return p, nil
}

// ParsePositional parses exactly five integers x1 y1 x2 y2 bin.
func ParsePositional(args []string) (imaging.Params, error) {
	if len(args) != len(parameterNames) {
		return imaging.Params{}, fmt.Errorf("%w: want %d values (%s), got %d",
			imaging.ErrInvalidParameter, len(parameterNames), strings.Join(parameterNames[:], " "), len(args))
	}

	var v [len(parameterNames)]int
	for i, s := range args {
		n, err := strconv.Atoi(s)
		if err != nil {
			return imaging.Params{}, fmt.Errorf("%w: %s=%q is not an integer", imaging.ErrInvalidParameter, parameterNames[i], s)
		}
		v[i] = n
	}

	p := imaging.Params{
		Rect: bincrop.Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]},
		Bin:  v[4],
	}
	if err := p.Validate(); err != nil {
		return imaging.Params{}, err
	}
	return p, nil
}
