/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the resolved processing configuration of one tenant.
type Policy struct {
	SnapshottingDisabled         bool     `json:"snapshotting_disabled"`
	ConfigVersion                int64    `json:"config_version"`
	IgnorableIssueTypes          []string `json:"ignorable_issue_types"`
	SendUpdateEvents             bool     `json:"send_update_events"`
	RemovedAtCompletionInclusive bool     `json:"removed_at_completion_inclusive"`
}

// policyDoc is one block of the policy file. Unset keys inherit.
type policyDoc struct {
	SnapshottingDisabled         *bool    `yaml:"snapshotting_disabled"`
	ConfigVersion                *int64   `yaml:"config_version"`
	IgnorableIssueTypes          []string `yaml:"ignorable_issue_types"`
	SendUpdateEvents             *bool    `yaml:"send_update_events"`
	RemovedAtCompletionInclusive *bool    `yaml:"removed_at_completion_inclusive"`
}

type policyFile struct {
	Defaults policyDoc            `yaml:"defaults"`
	Tenants  map[string]policyDoc `yaml:"tenants"`
}

type Policies struct {
	defaults Policy
	tenants  map[string]policyDoc
}

func builtinPolicy() Policy {
	return Policy{IgnorableIssueTypes: []string{"SUB-TASK"}}
}

// LoadPolicies reads the policy file; a missing file yields the built-in
// defaults for every tenant.
func LoadPolicies(path string) (*Policies, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Policies{defaults: builtinPolicy()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

func ParsePolicies(data []byte) (*Policies, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &Policies{defaults: f.Defaults.over(builtinPolicy()), tenants: f.Tenants}, nil
}

// For returns the tenant's overrides applied on top of the defaults.
func (p *Policies) For(tenant string) Policy {
	base := p.defaults
	base.IgnorableIssueTypes = append([]string(nil), base.IgnorableIssueTypes...)
	if d, ok := p.tenants[tenant]; ok {
		return d.over(base)
	}
	return base
}

func (d policyDoc) over(p Policy) Policy {
	if d.SnapshottingDisabled != nil {
		p.SnapshottingDisabled = *d.SnapshottingDisabled
	}
	if d.ConfigVersion != nil {
		p.ConfigVersion = *d.ConfigVersion
	}
	if d.IgnorableIssueTypes != nil {
		p.IgnorableIssueTypes = append([]string(nil), d.IgnorableIssueTypes...)
	}
	if d.SendUpdateEvents != nil {
		p.SendUpdateEvents = *d.SendUpdateEvents
	}
	if d.RemovedAtCompletionInclusive != nil {
		p.RemovedAtCompletionInclusive = *d.RemovedAtCompletionInclusive
	}
	return p
}
