// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultLineWorkingTime is used for a main line whose area is not configured.
const DefaultLineWorkingTime = 1440.0

// AreaConfig describes one production area.
type AreaConfig struct {
	Name               string  `yaml:"name"`
	WorkingTimeTable   string  `yaml:"workingTimeTable"`
	WorkingTimeColumn  string  `yaml:"workingTimeColumn"`
	DefaultWorkingTime float64 `yaml:"defaultWorkingTime"`
	// FilterColumn and FilterValue restrict the source rows counted for the area.
	FilterColumn string `yaml:"filterColumn"`
	FilterValue  string `yaml:"filterValue"`
}

// MainLineConfig describes a main line inside an area.
type MainLineConfig struct {
	Name          string `yaml:"name"`
	Area          string `yaml:"area"`
	MachineFilter string `yaml:"machineFilter"`
}

type Plant struct {
	Areas     []AreaConfig     `yaml:"areas"`
	MainLines []MainLineConfig `yaml:"mainLines"`
}

var identifier = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

// LoadPlant reads and validates the YAML plant layout.
func LoadPlant(path string) (Plant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plant{}, fmt.Errorf("reading plant layout: %w", err)
	}
	return ParsePlant(raw)
}

func ParsePlant(raw []byte) (Plant, error) {
	var p Plant
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Plant{}, fmt.Errorf("parsing plant layout: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plant{}, err
	}
	return p, nil
}

// Validate checks names and the identifiers that end up in SQL.
func (p Plant) Validate() error {
	var errs []error
	areas := make(map[string]struct{}, len(p.Areas))
	for i, a := range p.Areas {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("areas[%d]: name is empty", i))
			continue
		}
		if _, dup := areas[a.Name]; dup {
			errs = append(errs, fmt.Errorf("area %q defined twice", a.Name))
		}
		areas[a.Name] = struct{}{}
		if !identifier.MatchString(a.WorkingTimeTable) {
			errs = append(errs, fmt.Errorf("area %q: invalid workingTimeTable %q", a.Name, a.WorkingTimeTable))
		}
		if !identifier.MatchString(a.WorkingTimeColumn) {
			errs = append(errs, fmt.Errorf("area %q: invalid workingTimeColumn %q", a.Name, a.WorkingTimeColumn))
		}
		if a.DefaultWorkingTime < 0 {
			errs = append(errs, fmt.Errorf("area %q: defaultWorkingTime must not be negative", a.Name))
		}
		if a.FilterColumn != "" && !identifier.MatchString(a.FilterColumn) {
			errs = append(errs, fmt.Errorf("area %q: invalid filterColumn %q", a.Name, a.FilterColumn))
		}
	}

	lines := make(map[string]struct{}, len(p.MainLines))
	for i, l := range p.MainLines {
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("mainLines[%d]: name is empty", i))
			continue
		}
		if _, dup := lines[l.Name]; dup {
			errs = append(errs, fmt.Errorf("main line %q defined twice", l.Name))
		}
		lines[l.Name] = struct{}{}
		if l.Area == "" {
			errs = append(errs, fmt.Errorf("main line %q: area is empty", l.Name))
		}
		if l.MachineFilter == "" {
			errs = append(errs, fmt.Errorf("main line %q: machineFilter is empty", l.Name))
		}
	}
	return errors.Join(errs...)
}

// Area returns the area with the given name.
func (p Plant) Area(name string) (AreaConfig, bool) {
	for _, a := range p.Areas {
		if a.Name == name {
			return a, true
		}
	}
	return AreaConfig{}, false
}

// LineWorkingTime returns the table, column and default working time a main
// line inherits from its area. ok is false for a line without a known area; the
// default is then DefaultLineWorkingTime.
func (p Plant) LineWorkingTime(l MainLineConfig) (table, column string, def float64, ok bool) {
	a, ok := p.Area(l.Area)
	if !ok {
		return "", "", DefaultLineWorkingTime, false
	}
	return a.WorkingTimeTable, a.WorkingTimeColumn, a.DefaultWorkingTime, true
}
