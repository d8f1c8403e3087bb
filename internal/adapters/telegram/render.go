/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
	phoneRe    = regexp.MustCompile(`\+?\d[\d\-\s]{7,}\d`)
	urlRe      = regexp.MustCompile(`https?://[^\s]+`)
	tokenRe    = regexp.MustCompile(`(?i)\b(?:token|secret|password|apikey|api_key|bearer)[:=\s]+[A-Za-z0-9\-\._~+/]{8,}`)
	jiraUserRe = regexp.MustCompile(`\bJIRAUSER\d+\b`)
)

// scrub masks contact details, links and credentials in free text.
func scrub(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = emailRe.ReplaceAllString(s, "<email>")
	s = urlRe.ReplaceAllString(s, "<url>")
	s = tokenRe.ReplaceAllString(s, "<secret>")
	s = phoneRe.ReplaceAllString(s, "<phone>")
	s = jiraUserRe.ReplaceAllString(s, "<user>")
	return s
}

func renderEvent(tenant string, t domain.EventType, payload map[string]any) string {
	title := "Issue updated"
	if t == domain.EventIssueCreated {
		title = "Issue created"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v [%s]\n", title, payload["key"], tenant)
	for _, k := range []string{"issue_type", "status"} {
		if v, ok := payload[k]; ok && fmt.Sprint(v) != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, scrub(fmt.Sprint(v)))
		}
	}
	if v, ok := payload["updated_at"].(int64); ok {
		fmt.Fprintf(&b, "updated: %s\n", time.Unix(v, 0).UTC().Format(time.RFC3339))
	}
	if ids, ok := payload["sprint_ids"].([]string); ok && len(ids) > 0 {
		fmt.Fprintf(&b, "sprints: %s\n", strings.Join(ids, ", "))
	}
	if fields, ok := payload["fields"].(map[string]any); ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, scrub(fmt.Sprint(fields[k])))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// chunkText splits text into chunks of up to max runes, breaking on line
// boundaries where it can.
func chunkText(s string, max int) []string {
	if max <= 0 {
		return []string{s}
	}
	var chunks []string
	cur, curlen := "", 0
	for _, ln := range strings.Split(s, "\n") {
		r := []rune(ln)
		if len(r) > max {
			if curlen > 0 {
				chunks = append(chunks, cur)
				cur, curlen = "", 0
			}
			for i := 0; i < len(r); i += max {
				j := i + max
				if j > len(r) {
					j = len(r)
				}
				chunks = append(chunks, string(r[i:j]))
			}
			continue
		}
		extra := len(r)
		if curlen > 0 {
			extra++
		}
		switch {
		case curlen+extra > max:
			chunks = append(chunks, cur)
			cur, curlen = ln, len(r)
		case curlen == 0:
			cur, curlen = ln, len(r)
		default:
			cur += "\n" + ln
			curlen += extra
		}
	}
	if curlen > 0 {
		chunks = append(chunks, cur)
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}
