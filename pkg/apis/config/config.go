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

// Package config reads and writes the hyperdrive YAML configuration.
// The file is produced by the config subcommand from provisioned stack
// outputs and consumed by every other subcommand.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissing means no config file exists yet; every subcommand but
// config is fatal without one.
var ErrMissing = errors.New("create config file first")

type Config struct {
	Cache            string `yaml:"cache"`
	AMIID            string `yaml:"amiId"`
	Prefix           string `yaml:"prefix"`
	StackName        string `yaml:"stackName"`
	JobQueueURL      string `yaml:"jobQueueUrl"`
	LogGroupName     string `yaml:"logGroupName"`
	WorkerProfileARN string `yaml:"workerProfileArn"`
	SecurityGroupID  string `yaml:"securityGroupId"`
}

// OutputKeys are the stack outputs the config subcommand expects to
// find on the provisioned stack, one for one.
var OutputKeys = []string{"jobQueueUrl", "logGroupName", "workerProfileArn", "securityGroupId"}

func Load(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s, %w", file, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s, %w", file, err)
	}
	return cfg, nil
}

func (c *Config) Save(file string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config, %w", err)
	}
	if err := os.WriteFile(file, raw, 0o644); err != nil {
		return fmt.Errorf("writing config %s, %w", file, err)
	}
	return nil
}

// SetOutput applies a stack output value to its config field, rejecting
// outputs the stack should not have.
func (c *Config) SetOutput(key, value string) error {
	switch key {
	case "jobQueueUrl":
		c.JobQueueURL = value
	case "logGroupName":
		c.LogGroupName = value
	case "workerProfileArn":
		c.WorkerProfileARN = value
	case "securityGroupId":
		c.SecurityGroupID = value
	default:
		return fmt.Errorf("stack output %s does not match the expected outputs", key)
	}
	return nil
}

// SplitPrefix splits "bucket/key/prefix" into its bucket and key parts.
func (c *Config) SplitPrefix() (bucket, keyPrefix string) {
	bucket, keyPrefix, found := strings.Cut(c.Prefix, "/")
	if !found {
		return c.Prefix, ""
	}
	return bucket, keyPrefix
}

// JobScriptKey is the object key a job's script is uploaded to.
func (c *Config) JobScriptKey(jobid string) string {
	_, keyPrefix := c.SplitPrefix()
	return path.Join(keyPrefix, "_jobs", jobid)
}

// WorkflowPrefix is the object prefix the workflow directory syncs to.
func (c *Config) WorkflowPrefix() string {
	return path.Join(c.Prefix, "_workflow")
}
