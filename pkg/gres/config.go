// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package gres

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/ghodss/yaml"
)

const (
	// optPrefix is our common option prefix.
	optPrefix = "gres-select-"
	// optLLSharedGres controls least-loaded ordering of shared-GRES topology slots.
	optLLSharedGres = optPrefix + "ll-shared-gres"
	// optMultipleSharingGresPJ allows a single per-node/per-task request to
	// draw from more than one sharing device.
	optMultipleSharingGresPJ = optPrefix + "multiple-sharing-gres-pj"
)

// ClusterPolicy captures the cluster-wide policy flags this core reads
// (spec.md §6): whether shared-GRES topology slots are ordered
// least-loaded-first, and whether a single request may span more than
// one sharing device.
type ClusterPolicy struct {
	LLSharedGres          bool `json:"LLSharedGres"`
	MultipleSharingGresPJ bool `json:"MultipleSharingGresPJ"`

	explicit map[string]struct{}
}

// policy holds our configurable options with their defaults.
var policy = ClusterPolicy{
	LLSharedGres:          false,
	MultipleSharingGresPJ: false,
	explicit:              make(map[string]struct{}),
}

// ParseClusterPolicy overlays a YAML policy document onto the defaults.
func ParseClusterPolicy(raw []byte) (*ClusterPolicy, error) {
	conf := &ClusterPolicy{}
	if len(raw) != 0 {
		if err := yaml.Unmarshal(raw, conf); err != nil {
			return nil, gresError(ErrInvariantViolated, "failed to parse cluster policy: %v", err)
		}
	}
	return conf, nil
}

// Set implements flag.Value-style assignment by option name.
func (p *ClusterPolicy) Set(name, value string) error {
	var err error

	switch name {
	case optLLSharedGres:
		p.LLSharedGres, err = strconv.ParseBool(value)
	case optMultipleSharingGresPJ:
		p.MultipleSharingGresPJ, err = strconv.ParseBool(value)
	default:
		return gresError(ErrInvariantViolated, "unknown cluster policy option %q with value %q", name, value)
	}

	if err != nil {
		return gresError(ErrInvariantViolated, "invalid value %q for option %q: %v", value, name, err)
	}

	if p.explicit == nil {
		p.explicit = make(map[string]struct{})
	}
	p.explicit[name] = struct{}{}

	return nil
}

// Get returns the string form of the named option.
func (p *ClusterPolicy) Get(name string) string {
	switch name {
	case optLLSharedGres:
		return fmt.Sprintf("%v", p.LLSharedGres)
	case optMultipleSharingGresPJ:
		return fmt.Sprintf("%v", p.MultipleSharingGresPJ)
	default:
		return fmt.Sprintf("<no value, unknown cluster policy option %q>", name)
	}
}

// IsExplicit reports whether option was ever explicitly set.
func (p *ClusterPolicy) IsExplicit(option string) bool {
	_, explicit := p.explicit[option]
	return explicit
}

// CurrentPolicy returns the process-wide policy populated by the
// command-line flags registered in init() below.
func CurrentPolicy() *ClusterPolicy {
	return &policy
}

type wrappedOption struct {
	name string
	pol  *ClusterPolicy
}

func wrapOption(name, usage string) (*wrappedOption, string, string) {
	return &wrappedOption{name: name, pol: &policy}, name, usage
}

func (wo *wrappedOption) String() string        { return wo.pol.Get(wo.name) }
func (wo *wrappedOption) Set(value string) error { return wo.pol.Set(wo.name, value) }

func init() {
	flag.Var(wrapOption(optLLSharedGres,
		"Order shared-GRES topology slots least-loaded first."))
	flag.Var(wrapOption(optMultipleSharingGresPJ,
		"Allow a single per-node or per-task GRES request to span more than one sharing device."))
}
