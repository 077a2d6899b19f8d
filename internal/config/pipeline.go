package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// Pipeline holds the stage parameters read from the pipeline YAML file.
type Pipeline struct {
	// BatchID is the batch ingested when no id is given on the command line.
	BatchID     int                `yaml:"batch_id"`
	ValueRanges domain.ValueRanges `yaml:"value_ranges"`
	Features    []string           `yaml:"features"`
	// Target is the column correlated against by the correlation analysis.
	Target string `yaml:"target"`
}

// DefaultPipeline returns the parameters used when no file exists.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		ValueRanges: domain.DefaultValueRanges(),
		Features:    slices.Clone(domain.DefaultFeatures),
		Target:      domain.ColMeanTemp,
	}
}

// LoadPipeline reads pipeline parameters from path. A missing file yields the
// defaults; unset keys in an existing file are filled from them.
func LoadPipeline(path string) (*Pipeline, error) {
	p := DefaultPipeline()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var file Pipeline
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	p.BatchID = file.BatchID
	if len(file.Features) > 0 {
		p.Features = file.Features
	}
	if file.Target != "" {
		p.Target = file.Target
	}
	for col, r := range file.ValueRanges {
		p.ValueRanges[col] = r
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that the parameters are usable.
func (p *Pipeline) Validate() error {
	if p.BatchID < 0 {
		return fmt.Errorf("batch_id must not be negative, got %d", p.BatchID)
	}
	for col, r := range p.ValueRanges {
		if r.Min > r.Max {
			return fmt.Errorf("value_ranges.%s: min %v is greater than max %v", col, r.Min, r.Max)
		}
	}
	return nil
}
