package bmfmc

import (
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/Jannis298/queens/design"
	"github.com/Jannis298/queens/features"
)

// Config describes one analysis run. It is decoded from YAML and validated
// before any data is touched.
type Config struct {
	// Mapping is the probabilistic-mapping backend tag, e.g. "gp" or "blr".
	Mapping  string         `yaml:"mapping" validate:"required"`
	Features FeaturesConfig `yaml:"features"`
	Design   DesignConfig   `yaml:"design"`

	// Parameters describe the uncertain inputs. Required for the inverse
	// training iterator; the forward pipeline works from snapshots alone.
	Parameters []ParameterConfig `yaml:"parameters" validate:"dive"`

	// SupportPoints is the resolution of the output density grid.
	SupportPoints int     `yaml:"support_points" validate:"omitempty,min=2"`
	SupportMin    float64 `yaml:"support_min"`
	SupportMax    float64 `yaml:"support_max"`

	// Variance enables the quadratic predictive-variance stage;
	// VarianceStride thins the Monte-Carlo population before it.
	Variance       bool `yaml:"variance"`
	VarianceStride int  `yaml:"variance_stride" validate:"omitempty,min=1"`

	// KFold enables cross-validation of the mapping when at least 2.
	KFold int `yaml:"k_fold" validate:"omitempty,min=2"`

	// Baseline adds a no-features reference density for comparison.
	Baseline bool `yaml:"baseline"`
	// HFReference adds a kernel density estimate of the HF benchmark output.
	HFReference bool `yaml:"hf_reference"`
}

// FeaturesConfig selects and parameterizes the feature construction.
type FeaturesConfig struct {
	// Type defaults to no_features when the section is absent.
	Type        string      `yaml:"type" validate:"omitempty,oneof=no_features man_features coord_features time_features opt_features"`
	Columns     []int       `yaml:"columns"`
	Standardize bool        `yaml:"standardize"`
	Coords      [][]float64 `yaml:"coords"`
	Times       []float64   `yaml:"times"`
	Observed    []float64   `yaml:"observed"`
	Num         int         `yaml:"num"`
	// ExplainedVar is the Karhunen-Loeve truncation threshold in percent.
	ExplainedVar float64 `yaml:"explained_var"`
}

// DesignConfig selects the training-point design.
type DesignConfig struct {
	Method    string `yaml:"method" validate:"required"`
	Seed      uint64 `yaml:"seed"`
	NumPoints int    `yaml:"num_points" validate:"required,min=2"`
}

// ParameterConfig describes one uncertain input parameter.
type ParameterConfig struct {
	Name         string  `yaml:"name" validate:"required"`
	Distribution string  `yaml:"distribution" validate:"required,oneof=uniform normal lognormal"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	Mean         float64 `yaml:"mean"`
	StdDev       float64 `yaml:"std_dev"`
	Mu           float64 `yaml:"mu"`
	Sigma        float64 `yaml:"sigma"`
}

const (
	defaultSupportPoints  = 200
	defaultVarianceStride = 1
)

// ParseConfig decodes and validates a YAML analysis configuration. Defaults
// are filled in for the support resolution and the variance stride.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("bmfmc: decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills in defaults. All tag checks
// happen here, before any snapshot is read or model evaluated.
func (c *Config) Validate() error {
	if c.SupportPoints == 0 {
		c.SupportPoints = defaultSupportPoints
	}
	if c.VarianceStride == 0 {
		c.VarianceStride = defaultVarianceStride
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("bmfmc: invalid configuration: %w", err)
	}
	if _, err := c.FeatureConfig(); err != nil {
		return err
	}
	if _, err := c.TrainingDesign(); err != nil {
		return err
	}
	if _, err := c.UncertainParameters(); err != nil {
		return err
	}
	return nil
}

// FeatureConfig builds the typed feature configuration. The switch is
// exhaustive over the supported tags; anything else is a configuration
// error, never a silent default.
func (c *Config) FeatureConfig() (features.Config, error) {
	f := c.Features
	switch f.Type {
	case "no_features", "":
		return features.NoFeatures{}, nil
	case "man_features":
		if len(f.Columns) == 0 {
			return nil, fmt.Errorf("bmfmc: man_features needs at least one input column")
		}
		return features.ManFeatures{Columns: f.Columns, Standardize: f.Standardize}, nil
	case "coord_features":
		if len(f.Coords) == 0 {
			return nil, fmt.Errorf("bmfmc: coord_features needs coordinate rows")
		}
		cols := len(f.Coords[0])
		coords := mat.NewDense(len(f.Coords), cols, nil)
		for i, row := range f.Coords {
			if len(row) != cols {
				return nil, fmt.Errorf("bmfmc: coordinate row %d has %d values, expected %d", i, len(row), cols)
			}
			coords.SetRow(i, row)
		}
		return features.CoordFeatures{Coords: coords}, nil
	case "time_features":
		if len(f.Times) == 0 || len(f.Observed) == 0 {
			return nil, fmt.Errorf("bmfmc: time_features needs times and observed data")
		}
		return features.TimeFeatures{Times: f.Times, Observed: f.Observed}, nil
	case "opt_features":
		opt, err := features.NewOptFeatures(f.Num, f.ExplainedVar)
		if err != nil {
			return nil, err
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("%w: %q", features.ErrUnknownConfig, f.Type)
	}
}

// TrainingDesign builds the typed training-point design.
func (c *Config) TrainingDesign() (design.Design, error) {
	return design.Parse(c.Design.Method, c.Design.Seed, c.Design.NumPoints)
}

// UncertainParameters builds the typed uncertain-parameter description.
func (c *Config) UncertainParameters() (design.Parameters, error) {
	params := make(design.Parameters, 0, len(c.Parameters))
	for _, p := range c.Parameters {
		var dist design.Marginal
		switch p.Distribution {
		case "uniform":
			if !(p.Max > p.Min) {
				return nil, fmt.Errorf("bmfmc: parameter %q has an empty uniform range [%v, %v]", p.Name, p.Min, p.Max)
			}
			dist = design.Uniform{Min: p.Min, Max: p.Max}
		case "normal":
			if p.StdDev <= 0 {
				return nil, fmt.Errorf("bmfmc: parameter %q needs a positive standard deviation", p.Name)
			}
			dist = design.Normal{Mean: p.Mean, StdDev: p.StdDev}
		case "lognormal":
			if p.Sigma <= 0 {
				return nil, fmt.Errorf("bmfmc: parameter %q needs a positive sigma", p.Name)
			}
			dist = design.LogNormal{Mu: p.Mu, Sigma: p.Sigma}
		default:
			return nil, fmt.Errorf("%w: distribution %q of parameter %q", ErrNotImplemented, p.Distribution, p.Name)
		}
		params = append(params, design.Parameter{Name: p.Name, Dist: dist})
	}
	return params, nil
}
