/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package sprints

import (
	"context"
	"strings"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

const DoneCategory = "DONE"

// IsDone reports whether a status interval belongs to the done category. The
// category comes from the status id; without one, the status name decides.
func IsDone(ctx context.Context, cats StatusCategories, st domain.StatusInterval) (bool, error) {
	if strings.TrimSpace(st.StatusID) != "" && cats != nil {
		cat, ok, err := cats.Category(ctx, st.StatusID)
		if err != nil {
			return false, err
		}
		if ok && strings.TrimSpace(cat) != "" {
			return strings.EqualFold(strings.TrimSpace(cat), DoneCategory), nil
		}
	}
	return CanonicalStage(st.Status) == "Done", nil
}

// CanonicalStage maps a free-form status name onto the board-agnostic stages.
func CanonicalStage(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "backlog":
		return "Backlog"
	case strings.Contains(s, "to do") || s == "todo":
		return "Queue"
	case strings.Contains(s, "in progress") || s == "doing":
		return "InProgress"
	case strings.Contains(s, "review") || strings.Contains(s, "ready4test"):
		return "Review"
	case strings.Contains(s, "test") || strings.Contains(s, "qa"):
		return "Test"
	case strings.Contains(s, "deploy") || strings.Contains(s, "release"):
		return "Deploy"
	case strings.Contains(s, "block") || s == "pending":
		return "Blocked"
	case strings.Contains(s, "done") || strings.Contains(s, "resolve") || strings.Contains(s, "closed"):
		return "Done"
	default:
		return "Queue"
	}
}
