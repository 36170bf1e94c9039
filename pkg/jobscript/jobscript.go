/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package jobscript extracts job properties from the machine-parseable
// preamble the workflow engine writes into each submitted shell script.
package jobscript

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const propertiesPrefix = "# properties ="

// reservedResources are resource keys with dedicated meaning; anything
// else numeric under resources becomes a feature requirement.
var reservedResources = map[string]struct{}{
	"mem_mb":  {},
	"mem_gb":  {},
	"disk_mb": {},
	"disk_gb": {},
}

// Properties is the decoded preamble of one rule invocation.
type Properties struct {
	Rule      string          `json:"rule"`
	JobID     json.RawMessage `json:"jobid"`
	Threads   int             `json:"threads"`
	Log       []string        `json:"log"`
	Resources map[string]any  `json:"resources"`
}

// Requirements is what the selector needs to place the job.
type Requirements struct {
	Name     string
	CPUs     int32
	MemMiB   int64
	DiskGB   int32
	Features map[string]float64
	// ExtraLogs are workflow-relative log files the agent streams in
	// addition to the cloud-init output.
	ExtraLogs []string
}

// Parse locates the properties line in a jobscript and decodes it.
func Parse(script string) (Properties, error) {
	for _, line := range strings.Split(script, "\n") {
		if !strings.HasPrefix(line, propertiesPrefix) {
			continue
		}
		var props Properties
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, propertiesPrefix)), &props); err != nil {
			return Properties{}, fmt.Errorf("decoding jobscript properties, %w", err)
		}
		return props, nil
	}
	return Properties{}, fmt.Errorf("jobscript has no properties line")
}

// ParseRequirements derives placement requirements from a jobscript.
func ParseRequirements(script string) (Requirements, error) {
	props, err := Parse(script)
	if err != nil {
		return Requirements{}, err
	}
	req := Requirements{
		Name:      fmt.Sprintf("hd-%s-%s", props.Rule, strings.Trim(string(props.JobID), `"`)),
		CPUs:      1,
		MemMiB:    500,
		Features:  map[string]float64{},
		ExtraLogs: props.Log,
	}
	if props.Threads > 0 {
		req.CPUs = int32(props.Threads)
	}
	if v, ok := numericResource(props.Resources, "mem_mb"); ok {
		req.MemMiB = int64(v)
	} else if v, ok := numericResource(props.Resources, "mem_gb"); ok {
		req.MemMiB = int64(v * 1024)
	}
	if v, ok := numericResource(props.Resources, "disk_gb"); ok {
		req.DiskGB = int32(v)
	} else if v, ok := numericResource(props.Resources, "disk_mb"); ok {
		req.DiskGB = int32(math.Ceil(v / 1024))
	}
	for key, value := range props.Resources {
		if _, reserved := reservedResources[key]; reserved {
			continue
		}
		if v, ok := asNumber(value); ok {
			req.Features[key] = v
		}
	}
	return req, nil
}

func numericResource(resources map[string]any, key string) (float64, bool) {
	v, ok := resources[key]
	if !ok {
		return 0, false
	}
	return asNumber(v)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
