/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package changelog turns an issue snapshot and its change log into the dated
// histories kept on a stored issue.
package changelog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

var ErrMalformedChangelog = errors.New("malformed change log")

// Fields names the change-log fields the parser follows. Matching is
// case-insensitive.
type Fields struct {
	Status      string `yaml:"status"`
	StoryPoints string `yaml:"story_points"`
	Sprint      string `yaml:"sprint"`
}

func DefaultFields() Fields {
	return Fields{Status: "status", StoryPoints: "Story Points", Sprint: "Sprint"}
}

type Parser struct {
	fields Fields
}

// New fills blank field names from DefaultFields.
func New(f Fields) *Parser {
	def := DefaultFields()
	if strings.TrimSpace(f.Status) == "" {
		f.Status = def.Status
	}
	if strings.TrimSpace(f.StoryPoints) == "" {
		f.StoryPoints = def.StoryPoints
	}
	if strings.TrimSpace(f.Sprint) == "" {
		f.Sprint = def.Sprint
	}
	return &Parser{fields: f}
}

// Parse replays the change log from the issue creation. Every history starts
// at CreatedAt and its last interval stays open.
func (p *Parser) Parse(s domain.IssueSnapshot) (domain.History, error) {
	items := make([]domain.ChangeItem, len(s.Changelog))
	copy(items, s.Changelog)
	for i, it := range items {
		if it.At.IsZero() {
			return domain.History{}, fmt.Errorf("%s: item %d (%s) has no timestamp: %w", s.Key, i, it.Field, ErrMalformedChangelog)
		}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].At.Before(items[b].At) })

	origin := s.CreatedAt
	if origin.IsZero() && len(items) > 0 {
		origin = items[0].At
	}

	var statusItems, pointItems, sprintItems []domain.ChangeItem
	for _, it := range items {
		switch {
		case p.is(it.Field, p.fields.Status):
			statusItems = append(statusItems, it)
		case p.is(it.Field, p.fields.StoryPoints):
			pointItems = append(pointItems, it)
		case p.is(it.Field, p.fields.Sprint):
			sprintItems = append(sprintItems, it)
		}
	}

	return domain.History{
		Statuses:     statuses(s, origin, statusItems),
		StoryPoints:  storyPoints(s, origin, pointItems),
		SprintEvents: sprintEvents(s, origin, sprintItems),
	}, nil
}

func (p *Parser) is(field, want string) bool {
	return strings.EqualFold(strings.TrimSpace(field), strings.TrimSpace(want))
}

func statuses(s domain.IssueSnapshot, origin time.Time, items []domain.ChangeItem) []domain.StatusInterval {
	cur := domain.StatusInterval{Status: s.Status, StatusID: s.StatusID, Start: origin}
	if len(items) > 0 {
		cur.Status, cur.StatusID = items[0].FromString, items[0].From
	}
	var out []domain.StatusInterval
	for _, it := range items {
		cur.End = it.At
		out = appendNonEmpty(out, cur)
		cur = domain.StatusInterval{Status: it.ToString, StatusID: it.To, Start: it.At}
	}
	if cur.Status == "" && cur.StatusID == "" {
		return out
	}
	return append(out, cur)
}

func appendNonEmpty(out []domain.StatusInterval, iv domain.StatusInterval) []domain.StatusInterval {
	if (iv.Status == "" && iv.StatusID == "") || !iv.End.After(iv.Start) {
		return out
	}
	return append(out, iv)
}

func storyPoints(s domain.IssueSnapshot, origin time.Time, items []domain.ChangeItem) []domain.StoryPointsInterval {
	var cur *domain.StoryPointsInterval
	if len(items) > 0 {
		if v, ok := points(items[0].FromString); ok {
			cur = &domain.StoryPointsInterval{Points: v, Start: origin}
		}
	} else if s.StoryPoints != nil {
		cur = &domain.StoryPointsInterval{Points: int(math.Round(*s.StoryPoints)), Start: origin}
	}

	var out []domain.StoryPointsInterval
	for _, it := range items {
		if cur != nil && it.At.After(cur.Start) {
			cur.End = it.At
			out = append(out, *cur)
		}
		cur = nil
		if v, ok := points(it.ToString); ok {
			cur = &domain.StoryPointsInterval{Points: v, Start: it.At}
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func points(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}

func sprintEvents(s domain.IssueSnapshot, origin time.Time, items []domain.ChangeItem) map[string][]domain.SprintEvent {
	out := map[string][]domain.SprintEvent{}
	push := func(id string, typ domain.SprintEventType, at time.Time) {
		evs := out[id]
		if n := len(evs); n > 0 {
			evs[n-1].End = at
		}
		out[id] = append(evs, domain.SprintEvent{SprintID: id, Type: typ, Start: at})
	}

	initial := s.SprintIDs
	if len(items) > 0 {
		initial = splitIDs(items[0].From)
	}
	for _, id := range initial {
		push(id, domain.SprintAdded, origin)
	}
	for _, it := range items {
		from, to := splitIDs(it.From), splitIDs(it.To)
		for _, id := range difference(from, to) {
			push(id, domain.SprintRemoved, it.At)
		}
		for _, id := range difference(to, from) {
			push(id, domain.SprintAdded, it.At)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitIDs reads a comma-separated sprint id list, dropping blanks and
// duplicates.
func splitIDs(v string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func difference(a, b []string) []string {
	var out []string
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}
